package clock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcrostarosa/safecheck/internal/clock"
	"github.com/lcrostarosa/safecheck/internal/clock/clocktest"
)

func TestSleep_WaitsForClock(t *testing.T) {
	clk := clocktest.New(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	done := make(chan error, 1)
	go func() { done <- clock.Sleep(context.Background(), clk, time.Hour) }()

	require.Eventually(t, func() bool { return clk.Tickers() == 1 }, 2*time.Second, time.Millisecond)
	clk.Advance(time.Hour)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Sleep did not return after the clock advanced")
	}
	assert.Equal(t, 0, clk.Tickers())
}

func TestSleep_ContextCancelled(t *testing.T) {
	clk := clocktest.New(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, clock.Sleep(ctx, clk, time.Hour), context.Canceled)
	assert.ErrorIs(t, clock.Sleep(ctx, clk, 0), context.Canceled)
	assert.NoError(t, clock.Sleep(context.Background(), clock.New(), time.Millisecond))
}
