package checkin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcrostarosa/safecheck/internal/clock/clocktest"
	"github.com/lcrostarosa/safecheck/internal/directory"
	"github.com/lcrostarosa/safecheck/internal/dispatch"
	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
	"github.com/lcrostarosa/safecheck/internal/history"
	"github.com/lcrostarosa/safecheck/internal/kv"
	"github.com/lcrostarosa/safecheck/internal/location"
	"github.com/lcrostarosa/safecheck/internal/pinvault"
	"github.com/lcrostarosa/safecheck/internal/sink"
	"github.com/lcrostarosa/safecheck/internal/timerstate"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const waitFor = 3 * time.Second

// --- Helper functions ---

type fixture struct {
	clk      *clocktest.Fake
	storage  kv.Store
	timers   *timerstate.Store
	vault    *pinvault.Vault
	dir      *directory.Static
	feed     *location.Feed
	sink     *sink.Memory
	history  *history.Memory
	ctl      *Controller
	contacts []directory.Contact
}

type fixtureOpt func(*fixtureConfig)

type fixtureConfig struct {
	storage  kv.Store
	contacts int
	noFix    bool
	opts     []Option
}

func withStorage(s kv.Store) fixtureOpt  { return func(c *fixtureConfig) { c.storage = s } }
func withContacts(n int) fixtureOpt      { return func(c *fixtureConfig) { c.contacts = n } }
func withoutFix() fixtureOpt             { return func(c *fixtureConfig) { c.noFix = true } }
func withOptions(o ...Option) fixtureOpt { return func(c *fixtureConfig) { c.opts = append(c.opts, o...) } }

func makeContacts(n int) []directory.Contact {
	out := make([]directory.Contact, n)
	for i := range out {
		out[i] = directory.Contact{ID: fmt.Sprintf("c%d", i+1), DisplayName: fmt.Sprintf("Contact %d", i+1)}
	}
	return out
}

func setup(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()
	cfg := fixtureConfig{storage: kv.NewMemory(), contacts: 3}
	for _, o := range opts {
		o(&cfg)
	}
	ctx := context.Background()

	f := &fixture{clk: clocktest.New(t0), storage: cfg.storage}
	var err error
	f.timers, err = timerstate.Open(ctx, cfg.storage, f.clk)
	require.NoError(t, err)

	f.vault = pinvault.New(cfg.storage, pinvault.WithParams(pinvault.Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32}))
	require.NoError(t, f.vault.SetPin(ctx, "1234"))

	f.contacts = makeContacts(cfg.contacts)
	f.dir = directory.NewStatic(&directory.Profile{ID: "alice", DisplayName: "Alice"}, f.contacts)

	f.feed = location.NewFeed(true)
	if !cfg.noFix {
		f.feed.Push(location.Location{Latitude: 52.520008, Longitude: 13.404954, Timestamp: t0})
	}

	f.sink = sink.NewMemory()
	f.history = history.NewMemory()
	d := dispatch.New(f.sink, f.history, f.feed,
		dispatch.WithClock(f.clk),
		dispatch.WithLocationTimeout(20*time.Millisecond))

	f.ctl, err = New(Deps{
		Identity:   f.dir,
		Contacts:   f.dir,
		Location:   f.feed,
		Timers:     f.timers,
		Pins:       f.vault,
		Dispatcher: d,
	}, append([]Option{WithClock(f.clk), WithTickInterval(time.Second)}, cfg.opts...)...)
	require.NoError(t, err)
	t.Cleanup(f.ctl.Close)
	return f
}

// seconds advances simulated time one second at a time.
func (f *fixture) seconds(n int) {
	for i := 0; i < n; i++ {
		f.clk.Advance(time.Second)
	}
}

func (f *fixture) waitPhase(t *testing.T, p Phase) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return f.ctl.Snapshot().Phase == p }, waitFor, time.Millisecond,
		"phase %s never reached (at %s)", p, f.ctl.Snapshot().Phase)
	return f.ctl.Snapshot()
}

func (f *fixture) sentEntries(t *testing.T) []history.Entry {
	t.Helper()
	entries, err := f.history.List(context.Background(), "alice")
	require.NoError(t, err)
	var sent []history.Entry
	for _, e := range entries {
		if e.Type == history.Sent {
			sent = append(sent, e)
		}
	}
	return sent
}

type failingKV struct {
	kv.Store
	mu     sync.Mutex
	broken bool
}

func (f *failingKV) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	broken := f.broken
	f.mu.Unlock()
	if broken && key == timerstate.Key {
		return errors.New("disk full")
	}
	return f.Store.Set(ctx, key, value)
}

func (f *failingKV) breakWrites() {
	f.mu.Lock()
	f.broken = true
	f.mu.Unlock()
}

// --- Scenarios ---

func TestScenario_ExpiresWithoutCheckIn(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.ctl.Start(context.Background(), 1))
	assert.Equal(t, Active, f.ctl.Snapshot().Phase)

	f.seconds(61)

	snap := f.waitPhase(t, Expired)
	require.NotNil(t, snap.Outcome)
	assert.NoError(t, snap.Outcome.Err)
	assert.Equal(t, 3, snap.Outcome.Notified)

	assert.Len(t, f.sentEntries(t), 3, "one SENT entry per contact")
	assert.Equal(t, 3, f.sink.Total())
	assert.False(t, f.timers.State().Active)
}

func TestScenario_CheckInBeforeDeadline(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.ctl.Start(ctx, 1))

	f.seconds(10)
	require.NoError(t, f.ctl.CheckIn(ctx, "1234"))

	assert.Equal(t, CheckedIn, f.ctl.Snapshot().Phase)
	assert.False(t, f.timers.State().Active)
	assert.Equal(t, 0, f.clk.Tickers(), "clock cancelled")

	f.seconds(60)
	assert.Equal(t, CheckedIn, f.ctl.Snapshot().Phase)
	assert.Zero(t, f.sink.Total(), "no alert after check-in")
	assert.Empty(t, f.sentEntries(t))
}

func TestScenario_WrongPin(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.ctl.Start(ctx, 1))
	f.seconds(5)

	before := f.timers.RemainingNow()
	err := f.ctl.CheckIn(ctx, "0000")
	assert.ErrorIs(t, err, apperrors.ErrIncorrectPin)

	snap := f.ctl.Snapshot()
	assert.Equal(t, Active, snap.Phase)
	assert.Equal(t, 1, snap.IncorrectAttempts)
	assert.True(t, f.timers.State().Active)

	f.seconds(5)
	assert.Less(t, f.timers.RemainingNow(), before)
	require.Eventually(t, func() bool {
		return f.ctl.Snapshot().Remaining == 50*time.Second
	}, waitFor, time.Millisecond)

	assert.ErrorIs(t, f.ctl.CheckIn(ctx, "9999"), apperrors.ErrIncorrectPin)
	assert.Equal(t, 2, f.ctl.Snapshot().IncorrectAttempts)

	require.NoError(t, f.ctl.CheckIn(ctx, "1234"))
	assert.Equal(t, CheckedIn, f.ctl.Snapshot().Phase)
}

func TestSupersede(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.ctl.Start(ctx, 10))
	require.NoError(t, f.ctl.Start(ctx, 5))

	assert.Equal(t, 5*time.Minute, f.timers.RemainingNow())
	assert.Equal(t, t0.Add(5*time.Minute), f.ctl.Snapshot().EndTimestamp)
	require.Eventually(t, func() bool { return f.clk.Tickers() == 1 }, waitFor, time.Millisecond,
		"exactly one clock running")

	f.clk.Advance(6 * time.Minute)
	f.waitPhase(t, Expired)
	assert.Equal(t, 3, f.sink.Total())

	// the original 10-minute mark passes without a second escalation
	f.clk.Advance(5 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, f.sink.Total())
	assert.Len(t, f.sentEntries(t), 3)
}

func TestTerminalTransitionsAreExclusive(t *testing.T) {
	for i := 0; i < 20; i++ {
		t.Run(fmt.Sprintf("run-%d", i), func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			require.NoError(t, f.ctl.Start(ctx, 1))
			f.seconds(59)

			var wg sync.WaitGroup
			var checkInErr error
			wg.Add(2)
			go func() {
				defer wg.Done()
				checkInErr = f.ctl.CheckIn(ctx, "1234")
			}()
			go func() {
				defer wg.Done()
				f.clk.Advance(time.Second)
			}()
			wg.Wait()

			require.Eventually(t, func() bool {
				return f.ctl.Snapshot().Phase.Terminal()
			}, waitFor, time.Millisecond)

			switch f.ctl.Snapshot().Phase {
			case CheckedIn:
				require.NoError(t, checkInErr)
				time.Sleep(10 * time.Millisecond)
				assert.Equal(t, CheckedIn, f.ctl.Snapshot().Phase)
				assert.Zero(t, f.sink.Total(), "no alert if check-in won")
			case Expired:
				assert.ErrorIs(t, checkInErr, apperrors.ErrTimerNotActive)
				assert.Equal(t, 3, f.sink.Total())
				assert.ErrorIs(t, f.ctl.CheckIn(ctx, "1234"), apperrors.ErrTimerNotActive)
			}
			assert.False(t, f.timers.State().Active)
		})
	}
}

// --- Preconditions ---

func TestStart_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(f *fixture)
		minutes int
		want    error
	}{
		{"not logged in", func(f *fixture) { f.dir.SetProfile(nil) }, 1, apperrors.ErrNotLoggedIn},
		{"no contacts", func(f *fixture) { f.dir.SetContacts("alice", nil) }, 1, apperrors.ErrNoContacts},
		{"no permission", func(f *fixture) { f.feed.SetPermission(false) }, 1, apperrors.ErrNoPermission},
		{"zero minutes", func(*fixture) {}, 0, apperrors.ErrInvalidDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			tt.prepare(f)

			err := f.ctl.Start(context.Background(), tt.minutes)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, Idle, f.ctl.Snapshot().Phase)
			assert.False(t, f.timers.State().Active)
			assert.Equal(t, 0, f.clk.Tickers())
		})
	}
}

func TestStart_StoreFailureDoesNotArmClock(t *testing.T) {
	storage := &failingKV{Store: kv.NewMemory()}
	f := setup(t, withStorage(storage))
	storage.breakWrites()

	err := f.ctl.Start(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, Idle, f.ctl.Snapshot().Phase)
	assert.Equal(t, 0, f.clk.Tickers())

	f.seconds(90)
	assert.Zero(t, f.sink.Total())
}

func TestStart_StoreFailureKeepsPreviousTimer(t *testing.T) {
	storage := &failingKV{Store: kv.NewMemory()}
	f := setup(t, withStorage(storage))
	ctx := context.Background()
	require.NoError(t, f.ctl.Start(ctx, 1))

	storage.breakWrites()
	require.Error(t, f.ctl.Start(ctx, 10))

	assert.Equal(t, Active, f.ctl.Snapshot().Phase)
	assert.Equal(t, t0.Add(time.Minute), f.timers.State().EndTimestamp)
}

func TestCheckIn_NotActive(t *testing.T) {
	f := setup(t)
	assert.ErrorIs(t, f.ctl.CheckIn(context.Background(), "1234"), apperrors.ErrTimerNotActive)
}

func TestCheckIn_NoPinSet(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.vault.RemovePin(ctx))
	require.NoError(t, f.ctl.Start(ctx, 1))

	assert.ErrorIs(t, f.ctl.CheckIn(ctx, "1234"), apperrors.ErrNoPin)
	assert.Equal(t, Active, f.ctl.Snapshot().Phase)
}

func TestCheckIn_StoreFailureKeepsTimerRunning(t *testing.T) {
	storage := &failingKV{Store: kv.NewMemory()}
	f := setup(t, withStorage(storage))
	ctx := context.Background()
	require.NoError(t, f.ctl.Start(ctx, 1))

	storage.breakWrites()
	require.Error(t, f.ctl.CheckIn(ctx, "1234"))
	assert.Equal(t, Active, f.ctl.Snapshot().Phase)
	assert.Equal(t, 1, f.clk.Tickers())
}

// --- Expiry paths ---

func TestExpiry_RereadsContacts(t *testing.T) {
	f := setup(t, withContacts(2))
	require.NoError(t, f.ctl.Start(context.Background(), 1))

	f.dir.SetContacts("alice", makeContacts(4))
	f.clk.Advance(time.Minute)

	snap := f.waitPhase(t, Expired)
	assert.Equal(t, 4, snap.Outcome.Notified)
	assert.Equal(t, 4, f.sink.Total())
}

func TestExpiry_PartialFailure(t *testing.T) {
	f := setup(t, withContacts(5))
	f.sink.FailFor("c3", errors.New("inbox unavailable"))
	require.NoError(t, f.ctl.Start(context.Background(), 1))

	f.clk.Advance(time.Minute)
	snap := f.waitPhase(t, Expired)

	var pf *apperrors.PartialFailureError
	require.ErrorAs(t, snap.Outcome.Err, &pf)
	assert.Equal(t, 4, pf.Succeeded)
	assert.Equal(t, 1, pf.Failed)
	assert.Equal(t, 4, snap.Outcome.Notified)
	assert.Len(t, f.sentEntries(t), 4)
	assert.False(t, f.timers.State().Active)
}

func TestExpiry_LocationUnavailable(t *testing.T) {
	f := setup(t, withoutFix())
	require.NoError(t, f.ctl.Start(context.Background(), 1))

	f.clk.Advance(time.Minute)
	snap := f.waitPhase(t, Expired)

	assert.ErrorIs(t, snap.Outcome.Err, apperrors.ErrLocationUnavailable)
	assert.Zero(t, snap.Outcome.Notified)
	assert.Zero(t, f.sink.Total())
	assert.False(t, f.timers.State().Active)
}

func TestExpiry_SignedOutBeforeDeadline(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.ctl.Start(context.Background(), 1))
	f.dir.SetProfile(nil)

	f.clk.Advance(time.Minute)
	snap := f.waitPhase(t, Expired)
	assert.ErrorIs(t, snap.Outcome.Err, apperrors.ErrProfileNotFound)
	assert.Zero(t, f.sink.Total())
}

// --- Restore ---

func TestRestore_AfterRestart(t *testing.T) {
	storage := kv.NewMemory()
	first := setup(t, withStorage(storage))
	ctx := context.Background()
	require.NoError(t, first.ctl.Start(ctx, 1))
	first.seconds(10)
	first.ctl.Close() // process dies

	second := setup(t, withStorage(storage))
	second.clk.Set(t0.Add(10 * time.Second))

	restored, err := second.ctl.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, restored)

	snap := second.ctl.Snapshot()
	assert.Equal(t, Active, snap.Phase)
	assert.Equal(t, t0.Add(time.Minute), snap.EndTimestamp)
	assert.InDelta(t, float64(50*time.Second), float64(second.timers.RemainingNow()), float64(time.Second))

	second.seconds(50)
	second.waitPhase(t, Expired)
	assert.Equal(t, 3, second.sink.Total())
}

func TestRestore_DeadlinePassedWhileDown(t *testing.T) {
	storage := kv.NewMemory()
	first := setup(t, withStorage(storage))
	ctx := context.Background()
	require.NoError(t, first.ctl.Start(ctx, 1))
	first.ctl.Close()

	second := setup(t, withStorage(storage))
	second.clk.Set(t0.Add(5 * time.Minute))

	restored, err := second.ctl.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, restored)

	second.waitPhase(t, Expired)
	assert.Equal(t, 3, second.sink.Total())
	assert.False(t, second.timers.State().Active)
}

func TestRestore_NothingPersisted(t *testing.T) {
	f := setup(t)
	restored, err := f.ctl.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Equal(t, Idle, f.ctl.Snapshot().Phase)
}

func TestRestore_AlreadyRunning(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.ctl.Start(ctx, 1))

	restored, err := f.ctl.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Equal(t, 1, f.clk.Tickers())
}

// --- Reset, confirmation window, lockout ---

func TestReset(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.ctl.Reset()
	assert.Equal(t, Idle, f.ctl.Snapshot().Phase)

	require.NoError(t, f.ctl.Start(ctx, 1))
	f.ctl.Reset()
	assert.Equal(t, Active, f.ctl.Snapshot().Phase, "reset ignored while running")

	f.clk.Advance(time.Minute)
	f.waitPhase(t, Expired)

	f.ctl.Reset()
	snap := f.ctl.Snapshot()
	assert.Equal(t, Idle, snap.Phase)
	assert.Nil(t, snap.Outcome)
}

func TestConfirmationWindow(t *testing.T) {
	f := setup(t, withOptions(WithConfirmationWindow(3*time.Second)))
	ctx := context.Background()
	require.NoError(t, f.ctl.Start(ctx, 1))
	require.NoError(t, f.ctl.CheckIn(ctx, "1234"))
	assert.Equal(t, CheckedIn, f.ctl.Snapshot().Phase)

	f.seconds(3)
	f.waitPhase(t, Idle)
}

func TestConfirmationWindow_CancelledByNewStart(t *testing.T) {
	f := setup(t, withOptions(WithConfirmationWindow(3*time.Second)))
	ctx := context.Background()
	require.NoError(t, f.ctl.Start(ctx, 1))
	require.NoError(t, f.ctl.CheckIn(ctx, "1234"))

	require.NoError(t, f.ctl.Start(ctx, 1))
	f.seconds(5)
	assert.Equal(t, Active, f.ctl.Snapshot().Phase)
}

func TestLockout(t *testing.T) {
	f := setup(t)
	policy := pinvault.NewRateLimited(pinvault.RateLimitConfig{FreeAttempts: 1, Interval: 30 * time.Second, Burst: 1}, f.clk)
	f.ctl.lockout = policy
	ctx := context.Background()
	require.NoError(t, f.ctl.Start(ctx, 5))

	assert.ErrorIs(t, f.ctl.CheckIn(ctx, "0000"), apperrors.ErrIncorrectPin)
	assert.ErrorIs(t, f.ctl.CheckIn(ctx, "0000"), apperrors.ErrIncorrectPin)
	assert.ErrorIs(t, f.ctl.CheckIn(ctx, "1234"), apperrors.ErrTooManyAttempts)
	assert.Equal(t, Active, f.ctl.Snapshot().Phase)

	f.seconds(30)
	require.NoError(t, f.ctl.CheckIn(ctx, "1234"))
}

// --- Observability ---

func TestSubscribe(t *testing.T) {
	f := setup(t)
	ch, cancel := f.ctl.Subscribe()
	defer cancel()

	first := <-ch
	assert.Equal(t, Idle, first.Phase)

	require.NoError(t, f.ctl.Start(context.Background(), 1))

	seen := map[Phase]bool{}
	var remaining []time.Duration
	go f.seconds(3)
	deadline := time.After(waitFor)
	// a slow reader may miss intermediate ticks but always sees the latest
	for len(remaining) == 0 || remaining[len(remaining)-1] != 57*time.Second {
		select {
		case s := <-ch:
			seen[s.Phase] = true
			if s.Phase == Active {
				remaining = append(remaining, s.Remaining)
			}
		case <-deadline:
			t.Fatalf("saw only %v", remaining)
		}
	}
	assert.True(t, seen[Active])
	assert.False(t, seen[Expired])
	for i := 1; i < len(remaining); i++ {
		assert.LessOrEqual(t, remaining[i], remaining[i-1])
	}
}

// --- PIN changes and shutdown ---

func TestChangePin_RefusedWhileTimerRuns(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.ctl.Start(ctx, 1))

	called := false
	err := f.ctl.ChangePin(ctx, func(ctx context.Context) error {
		called = true
		return f.vault.RemovePin(ctx)
	})
	assert.ErrorIs(t, err, apperrors.ErrTimerRunning)
	assert.False(t, called)

	has, err := f.vault.HasPin(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	// the PIN the timer was armed with still stops it
	require.NoError(t, f.ctl.CheckIn(ctx, "1234"))
	assert.Equal(t, CheckedIn, f.ctl.Snapshot().Phase)

	require.NoError(t, f.ctl.ChangePin(ctx, func(ctx context.Context) error {
		return f.vault.SetPin(ctx, "5678")
	}))
	ok, err := f.vault.Validate(ctx, "5678")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChangePin_PassesThroughErrors(t *testing.T) {
	f := setup(t)
	boom := errors.New("boom")
	err := f.ctl.ChangePin(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestClose_StopsLaterOperations(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.ctl.Start(ctx, 1))

	f.ctl.Close()
	f.ctl.Close()
	assert.Equal(t, 0, f.clk.Tickers())

	assert.ErrorIs(t, f.ctl.Start(ctx, 1), ErrClosed)
	assert.ErrorIs(t, f.ctl.CheckIn(ctx, "1234"), ErrClosed)
	_, err := f.ctl.Restore(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, f.clk.Tickers())

	// the persisted timer is left for the next process
	assert.True(t, f.timers.State().Active)
}

func TestClose_ConcurrentWithStart(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := setup(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			err := f.ctl.Start(ctx, 1)
			if err != nil {
				assert.ErrorIs(t, err, ErrClosed)
			}
		}()
		go func() {
			defer wg.Done()
			f.ctl.Close()
		}()
		wg.Wait()

		assert.Equal(t, 0, f.clk.Tickers(), "no clock may run after Close")
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "expiring", Expiring.String())
	assert.Equal(t, "checked_in", CheckedIn.String())
	assert.Equal(t, "expired", Expired.String())
	assert.True(t, Expired.Terminal())
	assert.False(t, Expiring.Terminal())
}
