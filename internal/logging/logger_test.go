package logging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestReplace_CapturesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := Replace(zap.New(core))
	defer restore()

	Info("Timer started",
		String("user", "alice"),
		Int("minutes", 30),
		Duration("remaining", 90*time.Second),
		Err(errors.New("boom")))
	Named("sharing").Warn("Publish failed")
	Infof("checked in after %d attempts", 2)

	entries := logs.All()
	require.Len(t, entries, 3)

	fields := entries[0].ContextMap()
	assert.Equal(t, "Timer started", entries[0].Message)
	assert.Equal(t, "alice", fields["user"])
	assert.EqualValues(t, 30, fields["minutes"])
	assert.Equal(t, 90*time.Second, fields["remaining"])
	assert.Equal(t, "boom", fields["error"])

	assert.Equal(t, "sharing", entries[1].LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "checked in after 2 attempts", entries[2].Message)
}

func TestInit_Levels(t *testing.T) {
	restore := Replace(zap.NewNop())
	defer restore()

	tests := []struct {
		name  string
		cfg   Config
		debug bool
		info  bool
	}{
		{"default", DefaultConfig(), false, true},
		{"debug", Config{Level: "debug"}, true, true},
		{"warn", Config{Level: "warn"}, false, false},
		{"unknown falls back to info", Config{Level: "chatty"}, false, true},
		{"json", Config{Level: "info", JSON: true}, false, true},
		{"development", Config{Level: "debug", Development: true}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, Init(tt.cfg))
			assert.Equal(t, tt.debug, L().Core().Enabled(zapcore.DebugLevel))
			assert.Equal(t, tt.info, L().Core().Enabled(zapcore.InfoLevel))
			assert.NotNil(t, S())
		})
	}
}
