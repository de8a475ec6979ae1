// Package clocktest provides a manually advanced clock for tests.
package clocktest

import (
	"sync"
	"time"

	"github.com/lcrostarosa/safecheck/internal/clock"
)

// Fake is a clock whose time only moves when Advance or Set is called.
// Tickers fire synchronously from Advance: the call blocks until each due
// ticker's receiver has taken the tick (or the ticker is stopped).
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

// New creates a fake clock starting at start.
func New(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NewTicker registers a ticker that fires every d of simulated time.
func (f *Fake) NewTicker(d time.Duration) clock.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTicker{
		period:  d,
		next:    f.now.Add(d),
		ch:      make(chan time.Time),
		stopped: make(chan struct{}),
	}
	f.tickers = append(f.tickers, t)
	return t
}

// Advance moves time forward by d and delivers at most one tick to every
// ticker that became due. Missed periods are coalesced like time.Ticker does.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	due := f.dueLocked(now)
	f.mu.Unlock()

	for _, t := range due {
		t.fire(now)
	}
}

// Set jumps the wall clock to t without firing tickers. Use it to simulate
// clock adjustments or a suspended process.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// Tick delivers one tick to every live ticker without moving time.
func (f *Fake) Tick() {
	f.mu.Lock()
	now := f.now
	live := make([]*fakeTicker, 0, len(f.tickers))
	for _, t := range f.tickers {
		if !t.isStopped() {
			live = append(live, t)
		}
	}
	f.mu.Unlock()

	for _, t := range live {
		t.fire(now)
	}
}

// Tickers returns the number of tickers that have not been stopped.
func (f *Fake) Tickers() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, t := range f.tickers {
		if !t.isStopped() {
			n++
		}
	}
	return n
}

func (f *Fake) dueLocked(now time.Time) []*fakeTicker {
	var due []*fakeTicker
	live := f.tickers[:0]
	for _, t := range f.tickers {
		if t.isStopped() {
			continue
		}
		live = append(live, t)
		if !now.Before(t.next) {
			due = append(due, t)
			for !now.Before(t.next) {
				t.next = t.next.Add(t.period)
			}
		}
	}
	f.tickers = live
	return due
}

type fakeTicker struct {
	period   time.Duration
	next     time.Time
	ch       chan time.Time
	stopOnce sync.Once
	stopped  chan struct{}
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

func (t *fakeTicker) isStopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

func (t *fakeTicker) fire(now time.Time) {
	select {
	case t.ch <- now:
	case <-t.stopped:
	}
}
