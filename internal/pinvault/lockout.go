package pinvault

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lcrostarosa/safecheck/internal/clock"
	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
)

// LockoutPolicy decides whether another PIN attempt may be made, given the
// number of incorrect attempts so far for the running timer.
type LockoutPolicy interface {
	Allow(attempts int) error
	Reset()
}

// NoLockout allows unlimited attempts.
type NoLockout struct{}

func (NoLockout) Allow(int) error { return nil }
func (NoLockout) Reset()          {}

// RateLimitConfig configures RateLimited.
type RateLimitConfig struct {
	// FreeAttempts are allowed before throttling starts
	FreeAttempts int
	// Interval is the minimum spacing between throttled attempts
	Interval time.Duration
	// Burst is the number of throttled attempts allowed back to back
	Burst int
}

// DefaultRateLimitConfig returns 3 free attempts, then one every 30 seconds.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		FreeAttempts: 3,
		Interval:     30 * time.Second,
		Burst:        1,
	}
}

// RateLimited throttles attempts once FreeAttempts incorrect PINs have been
// entered. It never locks the user out permanently: a check-in must stay
// possible before the deadline.
type RateLimited struct {
	cfg   RateLimitConfig
	clock clock.Clock

	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewRateLimited creates a throttling policy. c may be nil.
func NewRateLimited(cfg RateLimitConfig, c clock.Clock) *RateLimited {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRateLimitConfig().Interval
	}
	r := &RateLimited{cfg: cfg, clock: clock.OrReal(c)}
	r.Reset()
	return r
}

func (r *RateLimited) Allow(attempts int) error {
	if attempts < r.cfg.FreeAttempts {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.limiter.AllowN(r.clock.Now(), 1) {
		return apperrors.ErrTooManyAttempts
	}
	return nil
}

// Reset restores the full burst, e.g. when a new timer starts.
func (r *RateLimited) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter = rate.NewLimiter(rate.Every(r.cfg.Interval), r.cfg.Burst)
}
