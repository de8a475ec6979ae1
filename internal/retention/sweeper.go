// Package retention periodically purges old alert history and expires
// alerts nobody acknowledged.
package retention

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lcrostarosa/safecheck/internal/clock"
	"github.com/lcrostarosa/safecheck/internal/logging"
)

// Store is the history surface the sweeper maintains.
type Store interface {
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
	ExpireUnacknowledged(ctx context.Context, olderThan time.Time) (int64, error)
}

// Policy configures a sweep. A zero age disables that step.
type Policy struct {
	// Retention deletes rows older than this
	Retention time.Duration
	// ExpireAfter marks delivered alerts older than this EXPIRED
	ExpireAfter time.Duration
	// Interval between sweeps
	Interval time.Duration
}

// Result counts the rows a sweep touched.
type Result struct {
	Expired int64
	Purged  int64
}

// Sweeper runs retention on an interval
type Sweeper struct {
	store  Store
	policy Policy
	clock  clock.Clock

	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	lastRun time.Time
	lastErr error
}

// NewSweeper creates a sweeper. c may be nil.
func NewSweeper(store Store, policy Policy, c clock.Clock) *Sweeper {
	if policy.Interval <= 0 {
		policy.Interval = time.Hour
	}
	return &Sweeper{
		store:  store,
		policy: policy,
		clock:  clock.OrReal(c),
		stop:   make(chan struct{}),
	}
}

// Enabled reports whether the policy does anything.
func (s *Sweeper) Enabled() bool {
	return s.policy.Retention > 0 || s.policy.ExpireAfter > 0
}

// Start sweeps once immediately, then every interval.
func (s *Sweeper) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	ticker := s.clock.NewTicker(s.policy.Interval)
	s.wg.Add(1)
	go s.run(ticker)
}

// Stop stops the sweeper and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
}

// Status returns when the last sweep ran and how it ended.
func (s *Sweeper) Status() (lastRun time.Time, lastErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

// RunOnce performs a single sweep. Purging runs first so rows about to be
// deleted are not rewritten as expired.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	now := s.clock.Now()
	var (
		res  Result
		errs []error
	)
	if s.policy.Retention > 0 {
		n, err := s.store.Purge(ctx, now.Add(-s.policy.Retention))
		res.Purged = n
		errs = append(errs, err)
	}
	if s.policy.ExpireAfter > 0 {
		n, err := s.store.ExpireUnacknowledged(ctx, now.Add(-s.policy.ExpireAfter))
		res.Expired = n
		errs = append(errs, err)
	}
	err := errors.Join(errs...)

	s.mu.Lock()
	s.lastRun = now
	s.lastErr = err
	s.mu.Unlock()
	return res, err
}

func (s *Sweeper) run(ticker clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	logging.Info("Retention sweeper started",
		logging.Duration("interval", s.policy.Interval),
		logging.Duration("retention", s.policy.Retention),
		logging.Duration("expireAfter", s.policy.ExpireAfter))

	s.sweep()
	for {
		select {
		case <-s.stop:
			logging.Info("Retention sweeper stopped")
			return
		case <-ticker.C():
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	res, err := s.RunOnce(ctx)
	if err != nil {
		logging.Warn("Retention sweep failed", logging.Err(err))
		return
	}
	if res.Expired > 0 || res.Purged > 0 {
		logging.Info("Retention sweep completed",
			logging.Any("expired", res.Expired),
			logging.Any("purged", res.Purged))
	}
}
