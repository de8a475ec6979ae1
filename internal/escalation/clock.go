// Package escalation provides the countdown loop that drives a timer to its
// deadline and fires exactly once when it is reached.
package escalation

import (
	"sync"
	"time"

	"github.com/lcrostarosa/safecheck/internal/clock"
	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
)

// DefaultInterval is the evaluation period.
const DefaultInterval = time.Second

// State is the lifecycle state of a Clock.
type State int

const (
	Stopped State = iota
	Running
	Cancelled
	Fired
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Cancelled:
		return "cancelled"
	case Fired:
		return "fired"
	default:
		return "unknown"
	}
}

// Clock re-evaluates the time left until a deadline on every tick. The
// remaining time is always recomputed from the absolute deadline, so a
// suspended process catches up on its next tick instead of drifting.
//
// A Clock can be started again once it has fired or been cancelled.
type Clock struct {
	clock    clock.Clock
	interval time.Duration

	mu        sync.Mutex
	state     State
	gen       uint64
	stop      chan struct{}
	done      chan struct{}
	remaining time.Duration
	reported  bool
}

// Option configures a Clock.
type Option func(*Clock)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(ec *Clock) { ec.clock = c }
}

// WithInterval sets the evaluation period.
func WithInterval(d time.Duration) Option {
	return func(ec *Clock) {
		if d > 0 {
			ec.interval = d
		}
	}
}

// New creates a stopped clock.
func New(opts ...Option) *Clock {
	c := &Clock{interval: DefaultInterval}
	for _, opt := range opts {
		opt(c)
	}
	c.clock = clock.OrReal(c.clock)
	return c
}

// Start begins evaluating deadline: once immediately, then every interval.
// While time is left onTick receives it; the first evaluation at or past
// the deadline calls onExpire once and stops the loop. Both callbacks run
// on the clock's goroutine with no locks held.
func (c *Clock) Start(deadline time.Time, onTick func(time.Duration), onExpire func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Running {
		return apperrors.ErrClockRunning
	}

	c.gen++
	c.state = Running
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.reported = false
	c.remaining = 0

	// created here so no tick is lost between Start and the loop starting
	ticker := c.clock.NewTicker(c.interval)
	go c.run(c.gen, deadline, ticker, c.stop, c.done, onTick, onExpire)
	return nil
}

// Cancel stops a running clock and waits for the loop goroutine to exit,
// including any callback it is running. Once it returns no callback is
// running and none will start. It is a no-op unless the clock is running.
//
// Cancel must not be called from inside onTick; use CancelAsync there.
func (c *Clock) Cancel() {
	if done := c.cancel(); done != nil {
		<-done
	}
}

// CancelAsync stops a running clock without waiting for the loop to exit.
// It is the form to use from inside a callback. No further callback starts
// once it returns.
func (c *Clock) CancelAsync() {
	c.cancel()
}

func (c *Clock) cancel() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return nil
	}
	c.state = Cancelled
	close(c.stop)
	return c.done
}

// State returns the lifecycle state.
func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Remaining returns the last value reported to onTick.
func (c *Clock) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Clock) run(gen uint64, deadline time.Time, ticker clock.Ticker, stop, done chan struct{}, onTick func(time.Duration), onExpire func()) {
	defer close(done)
	defer ticker.Stop()

	if !c.evaluate(gen, deadline, onTick, onExpire) {
		return
	}
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if !c.evaluate(gen, deadline, onTick, onExpire) {
				return
			}
		}
	}
}

// evaluate reports whether the loop should continue.
func (c *Clock) evaluate(gen uint64, deadline time.Time, onTick func(time.Duration), onExpire func()) bool {
	c.mu.Lock()
	if c.gen != gen || c.state != Running {
		c.mu.Unlock()
		return false
	}

	remaining := deadline.Sub(c.clock.Now())
	if remaining <= 0 {
		c.state = Fired
		c.remaining = 0
		c.mu.Unlock()
		if onExpire != nil {
			onExpire()
		}
		return false
	}

	// a wall clock stepped backwards must not make the countdown jump up
	if c.reported && remaining > c.remaining {
		remaining = c.remaining
	}
	c.remaining = remaining
	c.reported = true
	c.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	return true
}
