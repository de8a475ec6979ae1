// Package sharing broadcasts the user's live location for a bounded or
// open-ended period, optionally after a countdown.
package sharing

import (
	"context"
	"sync"
	"time"

	"github.com/lcrostarosa/safecheck/internal/clock"
	"github.com/lcrostarosa/safecheck/internal/directory"
	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
	"github.com/lcrostarosa/safecheck/internal/escalation"
	"github.com/lcrostarosa/safecheck/internal/location"
	"github.com/lcrostarosa/safecheck/internal/logging"
	"github.com/lcrostarosa/safecheck/internal/pubsub"
)

// Phase is the sharing state.
type Phase int

const (
	Idle Phase = iota
	Countdown
	Sharing
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Countdown:
		return "countdown"
	case Sharing:
		return "sharing"
	default:
		return "unknown"
	}
}

// Snapshot is the observable sharing state.
type Snapshot struct {
	Phase Phase
	// Remaining is the countdown while in Countdown and the time left to
	// share while in bounded Sharing.
	Remaining  time.Duration
	Indefinite bool
	Last       *location.Location
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Identity directory.Identity
	Location location.Provider
	Sink     location.ShareSink
}

// Controller runs Idle -> Countdown -> Sharing -> Idle. One escalation
// clock times both the countdown and a bounded sharing period.
type Controller struct {
	deps  Deps
	clock clock.Clock
	esc   *escalation.Clock

	opMu sync.Mutex

	mu        sync.Mutex
	phase     Phase
	gen       uint64
	userID    string
	duration  time.Duration
	remaining time.Duration
	last      *location.Location
	subCancel context.CancelFunc
	subDone   chan struct{}

	topic *pubsub.Topic[Snapshot]
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// New creates an idle controller.
func New(deps Deps, opts ...Option) *Controller {
	c := &Controller{
		deps:  deps,
		topic: pubsub.NewTopic[Snapshot](4),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.clock = clock.OrReal(c.clock)
	c.esc = escalation.New(escalation.WithClock(c.clock))
	c.topic.Publish(Snapshot{Phase: Idle})
	return c
}

// Start shares location after delay for duration. A zero delay starts
// sharing at once; a zero duration shares until Stop.
func (c *Controller) Start(ctx context.Context, delay, duration time.Duration) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if delay < 0 || duration < 0 {
		return apperrors.ErrInvalidDuration
	}
	userID, err := c.deps.Identity.CurrentUserID(ctx)
	if err != nil {
		return err
	}
	if !c.deps.Location.PermissionGranted() {
		return apperrors.ErrNoPermission
	}

	c.mu.Lock()
	if c.phase != Idle {
		c.mu.Unlock()
		return apperrors.ErrSharingActive
	}
	c.gen++
	gen := c.gen
	c.userID = userID
	c.duration = duration
	c.last = nil

	if delay == 0 {
		c.beginLocked(gen)
		c.mu.Unlock()
		logging.Info("Location sharing started", logging.Duration("duration", duration))
		return nil
	}

	c.phase = Countdown
	c.remaining = delay
	c.publishLocked()
	c.mu.Unlock()

	if err := c.esc.Start(c.clock.Now().Add(delay), c.onTick(gen), c.onCountdownDone(gen)); err != nil {
		c.mu.Lock()
		c.phase = Idle
		c.publishLocked()
		c.mu.Unlock()
		return err
	}
	logging.Info("Location sharing countdown started", logging.Duration("delay", delay))
	return nil
}

// Stop ends the countdown or sharing. When it returns the location
// subscription is gone and the shared position has been cleared.
func (c *Controller) Stop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.phase == Idle {
		c.mu.Unlock()
		return apperrors.ErrSharingNotActive
	}
	c.mu.Unlock()

	c.esc.Cancel()
	err := c.teardown(ctx, 0)
	// a countdown that fired while we waited may have armed the sharing period
	c.esc.Cancel()
	return err
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe streams state changes, starting with the current state.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	return c.topic.Subscribe()
}

// beginLocked moves to Sharing: it subscribes to location updates and, for a
// bounded period, arms the clock.
func (c *Controller) beginLocked(gen uint64) {
	subCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.subCancel = cancel
	c.subDone = done
	c.phase = Sharing
	c.remaining = c.duration
	c.publishLocked()

	go c.forward(subCtx, gen, c.userID, done)

	if c.duration > 0 {
		deadline := c.clock.Now().Add(c.duration)
		if err := c.esc.Start(deadline, c.onTick(gen), c.onSharingDone(gen)); err != nil {
			logging.Error("Failed to arm sharing period", logging.Err(err))
		}
	}
}

func (c *Controller) forward(ctx context.Context, gen uint64, userID string, done chan struct{}) {
	defer close(done)

	updates, err := c.deps.Location.Subscribe(ctx)
	if err != nil {
		logging.Error("Location subscription failed", logging.Err(err))
		return
	}
	for loc := range updates {
		if err := c.deps.Sink.Publish(ctx, userID, loc); err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Warn("Failed to publish shared location", logging.Err(err))
			continue
		}
		c.mu.Lock()
		if c.gen == gen {
			l := loc
			c.last = &l
			c.publishLocked()
		}
		c.mu.Unlock()
	}
}

func (c *Controller) onTick(gen uint64) func(time.Duration) {
	return func(remaining time.Duration) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen || c.phase == Idle {
			return
		}
		c.remaining = remaining
		c.publishLocked()
	}
}

func (c *Controller) onCountdownDone(gen uint64) func() {
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen || c.phase != Countdown {
			return
		}
		// runs on the clock goroutine after it fired, so the clock can be restarted here
		c.beginLocked(gen)
		logging.Info("Location sharing started after countdown")
	}
}

func (c *Controller) onSharingDone(gen uint64) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.teardown(ctx, gen); err != nil {
			logging.Warn("Failed to clear shared location", logging.Err(err))
		}
	}
}

// teardown returns to Idle. gen 0 tears down whatever is running; otherwise
// only that generation.
func (c *Controller) teardown(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	if c.phase == Idle || (gen != 0 && c.gen != gen) {
		c.mu.Unlock()
		return nil
	}
	wasSharing := c.phase == Sharing
	c.gen++
	c.phase = Idle
	c.remaining = 0
	userID := c.userID
	cancel, done := c.subCancel, c.subDone
	c.subCancel, c.subDone = nil, nil
	c.publishLocked()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	logging.Info("Location sharing stopped")
	if !wasSharing {
		return nil
	}
	return c.deps.Sink.Clear(ctx, userID)
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase:      c.phase,
		Remaining:  c.remaining,
		Indefinite: c.phase == Sharing && c.duration == 0,
	}
	if c.last != nil {
		l := *c.last
		s.Last = &l
	}
	return s
}

func (c *Controller) publishLocked() {
	c.topic.Publish(c.snapshotLocked())
}
