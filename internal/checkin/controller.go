// Package checkin implements the check-in timer: arming it, checking in
// with the PIN before the deadline, and alerting every emergency contact
// when the deadline passes.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lcrostarosa/safecheck/internal/clock"
	"github.com/lcrostarosa/safecheck/internal/directory"
	"github.com/lcrostarosa/safecheck/internal/dispatch"
	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
	"github.com/lcrostarosa/safecheck/internal/escalation"
	"github.com/lcrostarosa/safecheck/internal/location"
	"github.com/lcrostarosa/safecheck/internal/logging"
	"github.com/lcrostarosa/safecheck/internal/pinvault"
	"github.com/lcrostarosa/safecheck/internal/pubsub"
	"github.com/lcrostarosa/safecheck/internal/timerstate"
)

// DefaultDispatchTimeout bounds a whole expiry fan-out.
const DefaultDispatchTimeout = 2 * time.Minute

// ErrClosed is returned by operations on a closed controller.
var ErrClosed = errors.New("checkin: controller closed")

// Phase is the controller state.
type Phase int

const (
	Idle Phase = iota
	Active
	// Expiring is held while alerts are being sent.
	Expiring
	CheckedIn
	Expired
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Expiring:
		return "expiring"
	case CheckedIn:
		return "checked_in"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether p ends a timer.
func (p Phase) Terminal() bool {
	return p == CheckedIn || p == Expired
}

// Outcome is the result of an expiry.
type Outcome struct {
	Notified int
	Failed   int
	AlertIDs []string
	// Err is nil when every contact was alerted. It may be a
	// *PartialFailureError or a reason no alert was sent at all.
	Err error
	At  time.Time
}

// Snapshot is the observable controller state.
type Snapshot struct {
	Phase             Phase
	Remaining         time.Duration
	EndTimestamp      time.Time
	IncorrectAttempts int
	Outcome           *Outcome
}

// PinValidator checks a candidate PIN.
type PinValidator interface {
	Validate(ctx context.Context, candidate string) (bool, error)
}

// Dispatcher sends the expiry alert.
type Dispatcher interface {
	SendExpiryAlert(ctx context.Context, senderID string, profile *directory.Profile, contacts []directory.Contact) (*dispatch.Result, error)
}

// Deps are the collaborators of a Controller. All are required.
type Deps struct {
	Identity   directory.Identity
	Contacts   directory.Contacts
	Location   location.Provider
	Timers     *timerstate.Store
	Pins       PinValidator
	Dispatcher Dispatcher
}

// Controller is the only writer of the timer store.
//
// Lock order: opMu serialises user operations (Start, CheckIn, Restore,
// Reset, ChangePin, Close) so two starts never overlap; mu guards state and
// decides which of check-in and expiry wins. Clock callbacks never take
// opMu, and mu is never held while joining a clock.
type Controller struct {
	deps            Deps
	clock           clock.Clock
	esc             *escalation.Clock
	confirm         *escalation.Clock
	lockout         pinvault.LockoutPolicy
	confirmWindow   time.Duration
	dispatchTimeout time.Duration
	tick            time.Duration

	opMu   sync.Mutex
	closed bool

	mu        sync.Mutex
	phase     Phase
	gen       uint64
	attempts  int
	remaining time.Duration
	end       time.Time
	outcome   *Outcome

	topic *pubsub.Topic[Snapshot]
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithTickInterval sets how often the countdown is re-evaluated.
func WithTickInterval(d time.Duration) Option {
	return func(ctl *Controller) { ctl.tick = d }
}

// WithLockout sets the PIN attempt policy. The default never locks out.
func WithLockout(p pinvault.LockoutPolicy) Option {
	return func(ctl *Controller) {
		if p != nil {
			ctl.lockout = p
		}
	}
}

// WithConfirmationWindow returns the controller to Idle this long after a
// successful check-in. Zero keeps CheckedIn until Reset or the next Start.
func WithConfirmationWindow(d time.Duration) Option {
	return func(ctl *Controller) { ctl.confirmWindow = d }
}

// WithDispatchTimeout bounds the expiry fan-out.
func WithDispatchTimeout(d time.Duration) Option {
	return func(ctl *Controller) {
		if d > 0 {
			ctl.dispatchTimeout = d
		}
	}
}

// New creates an idle controller.
func New(deps Deps, opts ...Option) (*Controller, error) {
	switch {
	case deps.Identity == nil:
		return nil, errors.New("checkin: identity provider required")
	case deps.Contacts == nil:
		return nil, errors.New("checkin: contact directory required")
	case deps.Location == nil:
		return nil, errors.New("checkin: location provider required")
	case deps.Timers == nil:
		return nil, errors.New("checkin: timer store required")
	case deps.Pins == nil:
		return nil, errors.New("checkin: pin validator required")
	case deps.Dispatcher == nil:
		return nil, errors.New("checkin: dispatcher required")
	}

	c := &Controller{
		deps:            deps,
		lockout:         pinvault.NoLockout{},
		dispatchTimeout: DefaultDispatchTimeout,
		tick:            escalation.DefaultInterval,
		topic:           pubsub.NewTopic[Snapshot](4),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.clock = clock.OrReal(c.clock)
	c.esc = escalation.New(escalation.WithClock(c.clock), escalation.WithInterval(c.tick))
	c.confirm = escalation.New(escalation.WithClock(c.clock), escalation.WithInterval(c.tick))

	c.mu.Lock()
	c.publishLocked()
	c.mu.Unlock()
	return c, nil
}

// Start arms a timer for minutes, superseding any running one. Nothing is
// changed when a precondition fails or the timer cannot be persisted.
func (c *Controller) Start(ctx context.Context, minutes int) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if minutes <= 0 {
		return apperrors.ErrInvalidDuration
	}
	userID, err := c.deps.Identity.CurrentUserID(ctx)
	if err != nil {
		return err
	}
	contacts, err := c.deps.Contacts.Contacts(ctx, userID)
	if err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}
	if len(contacts) == 0 {
		return apperrors.ErrNoContacts
	}
	if !c.deps.Location.PermissionGranted() {
		return apperrors.ErrNoPermission
	}

	c.mu.Lock()
	st, err := c.deps.Timers.Start(ctx, minutes)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	// callbacks of a superseded clock carry an older generation and are ignored
	c.gen++
	gen := c.gen
	c.phase = Active
	c.attempts = 0
	c.outcome = nil
	c.end = st.EndTimestamp
	c.remaining = st.Remaining(c.clock.Now())
	c.lockout.Reset()
	c.publishLocked()
	c.mu.Unlock()

	if err := c.arm(gen, st.EndTimestamp); err != nil {
		return err
	}

	logging.Info("Check-in timer started",
		logging.String("user", userID),
		logging.Int("minutes", minutes),
		logging.Int("contacts", len(contacts)))
	return nil
}

// CheckIn stops the running timer if pin is correct. A wrong PIN leaves the
// timer running and counts the attempt.
func (c *Controller) CheckIn(ctx context.Context, pin string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.mu.Lock()
	if c.phase != Active {
		c.mu.Unlock()
		return apperrors.ErrTimerNotActive
	}
	gen, attempts := c.gen, c.attempts
	c.mu.Unlock()

	if err := c.lockout.Allow(attempts); err != nil {
		return err
	}

	ok, err := c.deps.Pins.Validate(ctx, pin)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.phase != Active || c.gen != gen {
		// expiry claimed the timer while the PIN was being checked
		c.mu.Unlock()
		return apperrors.ErrTimerNotActive
	}
	if !ok {
		c.attempts++
		n := c.attempts
		c.publishLocked()
		c.mu.Unlock()
		logging.Warn("Incorrect check-in PIN", logging.Int("attempts", n))
		return apperrors.ErrIncorrectPin
	}
	if err := c.deps.Timers.Stop(ctx); err != nil {
		c.mu.Unlock()
		return err
	}
	c.gen++
	gen = c.gen
	c.phase = CheckedIn
	c.remaining = 0
	c.publishLocked()
	c.mu.Unlock()

	c.esc.Cancel()
	c.startConfirmation(gen)

	logging.Info("Checked in before deadline")
	return nil
}

// Restore re-arms a timer persisted by a previous process. A deadline that
// passed while nothing was running escalates immediately. It reports
// whether a timer was restored.
func (c *Controller) Restore(ctx context.Context) (bool, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.closed {
		return false, ErrClosed
	}
	if err := c.deps.Timers.Reload(ctx); err != nil {
		return false, err
	}
	st := c.deps.Timers.State()
	if !st.Active {
		return false, nil
	}

	c.mu.Lock()
	if c.phase == Active && c.end.Equal(st.EndTimestamp) {
		c.mu.Unlock()
		return false, nil
	}
	c.gen++
	gen := c.gen
	c.phase = Active
	c.attempts = 0
	c.outcome = nil
	c.end = st.EndTimestamp
	c.remaining = st.Remaining(c.clock.Now())
	c.lockout.Reset()
	c.publishLocked()
	c.mu.Unlock()

	if err := c.arm(gen, st.EndTimestamp); err != nil {
		return false, err
	}
	logging.Info("Check-in timer restored", logging.Time("end", st.EndTimestamp))
	return true, nil
}

// Reset returns a finished timer to Idle. It does nothing while a timer is
// running or alerts are being sent.
func (c *Controller) Reset() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe streams state changes and countdown ticks, starting with the
// current state.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	return c.topic.Subscribe()
}

// ChangePin runs fn, which changes or removes the PIN, with Start and
// CheckIn held off. While a timer is running or its alerts are being sent
// it returns ErrTimerRunning without calling fn, so the PIN a timer was
// armed with stays the one that stops it.
func (c *Controller) ChangePin(ctx context.Context, fn func(context.Context) error) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()
	if phase == Active || phase == Expiring {
		return apperrors.ErrTimerRunning
	}
	return fn(ctx)
}

// Close stops the clocks without touching the persisted timer, so a later
// Restore in a new process picks it up again. Start and Restore fail
// afterwards.
func (c *Controller) Close() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true

	c.mu.Lock()
	c.gen++
	c.mu.Unlock()

	c.esc.Cancel()
	c.confirm.Cancel()
	c.topic.Close()
}

func (c *Controller) arm(gen uint64, deadline time.Time) error {
	c.confirm.Cancel()
	c.esc.Cancel()
	if err := c.esc.Start(deadline, c.onTick(gen), c.onExpire(gen)); err != nil {
		return fmt.Errorf("arm escalation clock: %w", err)
	}
	return nil
}

func (c *Controller) onTick(gen uint64) func(time.Duration) {
	return func(remaining time.Duration) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen || c.phase != Active {
			return
		}
		c.remaining = remaining
		c.publishLocked()
	}
}

func (c *Controller) onExpire(gen uint64) func() {
	return func() {
		c.mu.Lock()
		if c.gen != gen || c.phase != Active {
			c.mu.Unlock()
			return
		}
		c.phase = Expiring
		c.remaining = 0
		c.publishLocked()
		c.mu.Unlock()

		logging.Warn("Check-in deadline passed, alerting contacts")
		outcome := c.escalate()

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen {
			logging.Info("Timer superseded while alerting; keeping the new timer")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.dispatchTimeout)
		defer cancel()
		if err := c.deps.Timers.Stop(ctx); err != nil {
			logging.Error("Failed to clear expired timer", logging.Err(err))
		}
		c.phase = Expired
		c.outcome = outcome
		c.publishLocked()
	}
}

// escalate re-reads the profile and contact list and sends the alert.
func (c *Controller) escalate() *Outcome {
	ctx, cancel := context.WithTimeout(context.Background(), c.dispatchTimeout)
	defer cancel()

	out := &Outcome{}
	defer func() { out.At = c.clock.Now() }()

	profile, err := c.deps.Identity.CurrentProfile(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotLoggedIn) {
			err = fmt.Errorf("%w: %v", apperrors.ErrProfileNotFound, err)
		}
		out.Err = err
		logging.Error("Expiry alert not sent", logging.Err(err))
		return out
	}
	contacts, err := c.deps.Contacts.Contacts(ctx, profile.ID)
	if err != nil {
		out.Err = fmt.Errorf("load contacts: %w", err)
		logging.Error("Expiry alert not sent", logging.Err(out.Err))
		return out
	}

	res, err := c.deps.Dispatcher.SendExpiryAlert(ctx, profile.ID, profile, contacts)
	out.Err = err
	if res != nil {
		out.Notified = res.Notified
		out.Failed = res.Failed
		out.AlertIDs = res.AlertIDs
	}
	if err != nil {
		logging.Error("Expiry alert incomplete",
			logging.Int("notified", out.Notified),
			logging.Err(err))
	}
	return out
}

func (c *Controller) startConfirmation(gen uint64) {
	if c.confirmWindow <= 0 {
		return
	}
	deadline := c.clock.Now().Add(c.confirmWindow)
	err := c.confirm.Start(deadline, nil, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen == gen && c.phase == CheckedIn {
			c.resetLocked()
		}
	})
	if err != nil {
		logging.Warn("Confirmation window not started", logging.Err(err))
	}
}

func (c *Controller) resetLocked() {
	if !c.phase.Terminal() {
		return
	}
	c.gen++
	c.phase = Idle
	c.attempts = 0
	c.remaining = 0
	c.end = time.Time{}
	c.outcome = nil
	c.publishLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase:             c.phase,
		Remaining:         c.remaining,
		IncorrectAttempts: c.attempts,
	}
	if c.phase == Active || c.phase == Expiring {
		s.EndTimestamp = c.end
	}
	if c.outcome != nil {
		o := *c.outcome
		s.Outcome = &o
	}
	return s
}

func (c *Controller) publishLocked() {
	c.topic.Publish(c.snapshotLocked())
}
