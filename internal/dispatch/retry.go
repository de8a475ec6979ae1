package dispatch

import (
	"math"
	"time"
)

// RetryStrategy defines how a failed enqueue is retried
type RetryStrategy struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries)
	MaxRetries int
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration
	// BackoffFactor is the multiplier applied to delay after each attempt
	BackoffFactor float64
}

// DefaultRetryStrategy retries twice, quickly: an emergency alert cannot
// wait minutes for a flaky sink.
func DefaultRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		MaxRetries:    2,
		InitialDelay:  250 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// NoRetry returns a strategy that never retries
func NoRetry() *RetryStrategy {
	return &RetryStrategy{
		MaxRetries: 0,
	}
}

// NextDelay calculates the delay before the next retry attempt.
// attempt is 1-indexed (1 = first retry)
func (r *RetryStrategy) NextDelay(attempt int) time.Duration {
	if r == nil || attempt < 1 || attempt > r.MaxRetries {
		return 0
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	if r.MaxDelay > 0 && time.Duration(delay) > r.MaxDelay {
		return r.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry returns true if another retry should be attempted after
// attempt retries have already been made
func (r *RetryStrategy) ShouldRetry(attempt int) bool {
	return r != nil && attempt < r.MaxRetries
}
