package sharing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcrostarosa/safecheck/internal/clock/clocktest"
	"github.com/lcrostarosa/safecheck/internal/directory"
	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
	"github.com/lcrostarosa/safecheck/internal/location"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const waitFor = 3 * time.Second

type fixture struct {
	clk  *clocktest.Fake
	dir  *directory.Static
	feed *location.Feed
	sink *location.MemoryShareSink
	ctl  *Controller
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clk:  clocktest.New(t0),
		dir:  directory.NewStatic(&directory.Profile{ID: "alice", DisplayName: "Alice"}, nil),
		feed: location.NewFeed(true),
		sink: location.NewMemoryShareSink(),
	}
	f.ctl = New(Deps{Identity: f.dir, Location: f.feed, Sink: f.sink}, WithClock(f.clk))
	t.Cleanup(func() {
		_ = f.ctl.Stop(context.Background())
		f.feed.Close()
	})
	return f
}

func fix(lat float64) location.Location {
	return location.Location{Latitude: lat, Longitude: -0.12, Accuracy: 5, Timestamp: t0}
}

// pushUntilShared keeps pushing fixes until one reaches the sink, since the
// subscription is set up asynchronously.
func (f *fixture) pushUntilShared(t *testing.T, loc location.Location) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.feed.Push(loc)
		got, ok := f.sink.Latest("alice")
		return ok && got.Latitude == loc.Latitude
	}, waitFor, 5*time.Millisecond)
}

func (f *fixture) waitPhase(t *testing.T, p Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return f.ctl.Snapshot().Phase == p }, waitFor, time.Millisecond)
}

func TestStart_Immediate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.ctl.Start(ctx, 0, 0))
	snap := f.ctl.Snapshot()
	assert.Equal(t, Sharing, snap.Phase)
	assert.True(t, snap.Indefinite)

	f.pushUntilShared(t, fix(51.5))
	require.Eventually(t, func() bool {
		last := f.ctl.Snapshot().Last
		return last != nil && last.Latitude == 51.5
	}, waitFor, time.Millisecond)

	// indefinite sharing outlives any amount of time
	f.clk.Advance(24 * time.Hour)
	assert.Equal(t, Sharing, f.ctl.Snapshot().Phase)

	require.NoError(t, f.ctl.Stop(ctx))
	assert.Equal(t, Idle, f.ctl.Snapshot().Phase)
	_, ok := f.sink.Latest("alice")
	assert.False(t, ok, "stop clears the shared position")

	before := len(f.sink.Published("alice"))
	f.feed.Push(fix(52))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, f.sink.Published("alice"), before, "no fixes forwarded after stop")
}

func TestStart_Countdown(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.ctl.Start(ctx, 5*time.Second, 0))
	snap := f.ctl.Snapshot()
	assert.Equal(t, Countdown, snap.Phase)
	assert.Equal(t, 5*time.Second, snap.Remaining)
	assert.False(t, snap.Indefinite)

	f.clk.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		return f.ctl.Snapshot().Remaining == 3*time.Second
	}, waitFor, time.Millisecond)

	// nothing is forwarded during the countdown
	f.feed.Push(fix(40))
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, f.sink.Published("alice"))

	f.clk.Advance(3 * time.Second)
	f.waitPhase(t, Sharing)
	f.pushUntilShared(t, fix(41))
}

func TestStart_BoundedDurationEnds(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.ctl.Start(ctx, 0, 10*time.Second))
	assert.Equal(t, 10*time.Second, f.ctl.Snapshot().Remaining)
	f.pushUntilShared(t, fix(48.8))

	f.clk.Advance(4 * time.Second)
	require.Eventually(t, func() bool {
		return f.ctl.Snapshot().Remaining == 6*time.Second
	}, waitFor, time.Millisecond)

	f.clk.Advance(6 * time.Second)
	f.waitPhase(t, Idle)
	require.Eventually(t, func() bool {
		_, ok := f.sink.Latest("alice")
		return !ok
	}, waitFor, time.Millisecond)

	assert.ErrorIs(t, f.ctl.Stop(ctx), apperrors.ErrSharingNotActive)

	// can share again afterwards
	require.NoError(t, f.ctl.Start(ctx, 0, time.Minute))
	assert.Equal(t, Sharing, f.ctl.Snapshot().Phase)
}

func TestStart_CountdownThenBounded(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.ctl.Start(ctx, 3*time.Second, 5*time.Second))
	f.clk.Advance(3 * time.Second)
	f.waitPhase(t, Sharing)
	require.Eventually(t, func() bool {
		return f.ctl.Snapshot().Remaining == 5*time.Second
	}, waitFor, time.Millisecond)

	// the sharing clock is armed inside the countdown's expiry; let it pick up its ticker
	require.Eventually(t, func() bool {
		f.clk.Advance(5 * time.Second)
		return f.ctl.Snapshot().Phase == Idle
	}, waitFor, 5*time.Millisecond)
}

func TestStop_DuringCountdown(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.ctl.Start(ctx, time.Minute, 0))
	require.NoError(t, f.ctl.Stop(ctx))
	assert.Equal(t, Idle, f.ctl.Snapshot().Phase)

	f.clk.Advance(2 * time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, Idle, f.ctl.Snapshot().Phase, "cancelled countdown never starts sharing")

	// the clock is free for a new countdown
	require.NoError(t, f.ctl.Start(ctx, time.Minute, 0))
	assert.Equal(t, Countdown, f.ctl.Snapshot().Phase)
}

func TestStart_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("already active", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.ctl.Start(ctx, 0, 0))
		assert.ErrorIs(t, f.ctl.Start(ctx, 0, 0), apperrors.ErrSharingActive)
		assert.ErrorIs(t, f.ctl.Start(ctx, time.Second, 0), apperrors.ErrSharingActive)
	})

	t.Run("not active", func(t *testing.T) {
		f := setup(t)
		assert.ErrorIs(t, f.ctl.Stop(ctx), apperrors.ErrSharingNotActive)
	})

	t.Run("no permission", func(t *testing.T) {
		f := setup(t)
		f.feed.SetPermission(false)
		assert.ErrorIs(t, f.ctl.Start(ctx, 0, 0), apperrors.ErrNoPermission)
		assert.Equal(t, Idle, f.ctl.Snapshot().Phase)
	})

	t.Run("signed out", func(t *testing.T) {
		f := setup(t)
		f.dir.SetProfile(nil)
		assert.ErrorIs(t, f.ctl.Start(ctx, 0, 0), apperrors.ErrNotLoggedIn)
	})

	t.Run("negative durations", func(t *testing.T) {
		f := setup(t)
		assert.ErrorIs(t, f.ctl.Start(ctx, -time.Second, 0), apperrors.ErrInvalidDuration)
		assert.ErrorIs(t, f.ctl.Start(ctx, 0, -time.Second), apperrors.ErrInvalidDuration)
	})
}

type failingSink struct {
	*location.MemoryShareSink
	err error
}

func (s failingSink) Publish(context.Context, string, location.Location) error { return s.err }

func TestPublishErrorsKeepSharing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	bad := failingSink{MemoryShareSink: f.sink, err: errors.New("broker down")}
	ctl := New(Deps{Identity: f.dir, Location: f.feed, Sink: bad}, WithClock(f.clk))

	require.NoError(t, ctl.Start(ctx, 0, 0))
	f.feed.Push(fix(1))
	f.feed.Push(fix(2))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, Sharing, ctl.Snapshot().Phase)
	assert.Nil(t, ctl.Snapshot().Last)
	require.NoError(t, ctl.Stop(ctx))
}

func TestSubscribe(t *testing.T) {
	f := setup(t)
	ch, cancel := f.ctl.Subscribe()
	defer cancel()

	first := <-ch
	assert.Equal(t, Idle, first.Phase)

	require.NoError(t, f.ctl.Start(context.Background(), 2*time.Second, 0))

	seen := map[Phase]bool{}
	f.clk.Advance(2 * time.Second)
	timeout := time.After(waitFor)
	for !seen[Sharing] {
		select {
		case s := <-ch:
			seen[s.Phase] = true
		case <-timeout:
			t.Fatal("never reached sharing")
		}
	}
	assert.True(t, seen[Sharing])
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "countdown", Countdown.String())
	assert.Equal(t, "sharing", Sharing.String())
	assert.Equal(t, "unknown", Phase(9).String())
}
