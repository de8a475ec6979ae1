// Package timerstate persists the check-in timer: whether one is armed and
// the absolute deadline it expires at.
package timerstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lcrostarosa/safecheck/internal/clock"
	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
	"github.com/lcrostarosa/safecheck/internal/kv"
	"github.com/lcrostarosa/safecheck/internal/logging"
	"github.com/lcrostarosa/safecheck/internal/pubsub"
)

// Key is the storage key of the persisted record.
const Key = "timer/state"

// State is the persisted timer record. EndTimestamp is meaningless when
// Active is false.
type State struct {
	Active       bool      `json:"active"`
	EndTimestamp time.Time `json:"end_timestamp"`
}

// Store is the single source of truth for the armed timer. Both fields are
// written as one value, so readers never see Active with a stale deadline.
type Store struct {
	kv    kv.Store
	clock clock.Clock

	mu    sync.RWMutex
	state State
	topic *pubsub.Topic[State]
}

// Open loads the persisted record (if any) from s.
func Open(ctx context.Context, s kv.Store, c clock.Clock) (*Store, error) {
	st := &Store{
		kv:    s,
		clock: clock.OrReal(c),
		topic: pubsub.NewTopic[State](1),
	}
	if err := st.Reload(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

// Reload re-reads the record from storage, as a fresh process would.
func (s *Store) Reload(ctx context.Context) error {
	data, err := s.kv.Get(ctx, Key)
	var st State
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load timer state: %w", err)
	default:
		if err := json.Unmarshal(data, &st); err != nil {
			return fmt.Errorf("decode timer state: %w", err)
		}
	}
	if !st.Active {
		st.EndTimestamp = time.Time{}
	}

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.topic.Publish(st)
	return nil
}

// Start arms a timer ending minutes from now and returns the new record.
func (s *Store) Start(ctx context.Context, minutes int) (State, error) {
	if minutes <= 0 {
		return State{}, apperrors.ErrInvalidDuration
	}
	st := State{
		Active:       true,
		EndTimestamp: s.clock.Now().Add(time.Duration(minutes) * time.Minute),
	}
	if err := s.write(ctx, st); err != nil {
		return State{}, err
	}
	logging.Info("Timer armed",
		logging.Int("minutes", minutes),
		logging.Time("end", st.EndTimestamp))
	return st, nil
}

// Stop disarms the timer.
func (s *Store) Stop(ctx context.Context) error {
	if err := s.write(ctx, State{}); err != nil {
		return err
	}
	logging.Debug("Timer disarmed")
	return nil
}

// in-memory view only changes after the write succeeded
func (s *Store) write(ctx context.Context, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode timer state: %w", err)
	}
	if err := s.kv.Set(ctx, Key, data); err != nil {
		return fmt.Errorf("persist timer state: %w", err)
	}

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.topic.Publish(st)
	return nil
}

// State returns the current record.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Remaining returns max(0, end-now) for an armed timer, else 0.
func (s *Store) Remaining(now time.Time) time.Duration {
	return s.State().Remaining(now)
}

// RemainingNow is Remaining at the clock's current time.
func (s *Store) RemainingNow() time.Duration {
	return s.Remaining(s.clock.Now())
}

// Subscribe streams every record change, starting with the current one.
func (s *Store) Subscribe() (<-chan State, func()) {
	return s.topic.Subscribe()
}

// Remaining returns max(0, EndTimestamp-now) when active.
func (st State) Remaining(now time.Time) time.Duration {
	if !st.Active {
		return 0
	}
	if d := st.EndTimestamp.Sub(now); d > 0 {
		return d
	}
	return 0
}
