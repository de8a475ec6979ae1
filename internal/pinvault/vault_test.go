package pinvault

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lcrostarosa/safecheck/internal/clock/clocktest"
	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
	"github.com/lcrostarosa/safecheck/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cheap parameters keep the tests fast
var testParams = Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32}

func newVault(t *testing.T) (*Vault, *kv.Memory) {
	t.Helper()
	s := kv.NewMemory()
	return New(s, WithParams(testParams)), s
}

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		pin   string
		valid bool
	}{
		{"1234", true},
		{"123456", true},
		{"0000", true},
		{"123", false},
		{"1234567", false},
		{"12a4", false},
		{"", false},
		{"１２３４", false}, // full-width digits
		{" 1234", false},
	}

	for _, tt := range tests {
		err := ValidateFormat(tt.pin)
		if tt.valid {
			assert.NoError(t, err, "pin %q", tt.pin)
		} else {
			assert.ErrorIs(t, err, apperrors.ErrInvalidPin, "pin %q", tt.pin)
		}
	}
}

func TestVault_NoPin(t *testing.T) {
	ctx := context.Background()
	v, _ := newVault(t)

	has, err := v.HasPin(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = v.Validate(ctx, "1234")
	assert.ErrorIs(t, err, apperrors.ErrNoPin)
}

func TestVault_SetAndValidate(t *testing.T) {
	ctx := context.Background()
	v, _ := newVault(t)

	require.NoError(t, v.SetPin(ctx, "1234"))

	has, err := v.HasPin(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	ok, err := v.Validate(ctx, "1234")
	require.NoError(t, err)
	assert.True(t, ok)

	for _, wrong := range []string{"0000", "12345", "", "4321"} {
		ok, err := v.Validate(ctx, wrong)
		require.NoError(t, err)
		assert.False(t, ok, "candidate %q", wrong)
	}
}

func TestVault_SetPinRejectsBadFormat(t *testing.T) {
	v, s := newVault(t)
	assert.ErrorIs(t, v.SetPin(context.Background(), "12"), apperrors.ErrInvalidPin)

	_, err := s.Get(context.Background(), Key)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestVault_ChangePin(t *testing.T) {
	ctx := context.Background()
	v, _ := newVault(t)

	require.NoError(t, v.SetPin(ctx, "1234"))
	require.NoError(t, v.SetPin(ctx, "987654"))

	ok, _ := v.Validate(ctx, "1234")
	assert.False(t, ok)
	ok, _ = v.Validate(ctx, "987654")
	assert.True(t, ok)
}

func TestVault_RemovePin(t *testing.T) {
	ctx := context.Background()
	v, _ := newVault(t)

	require.NoError(t, v.SetPin(ctx, "1234"))
	require.NoError(t, v.RemovePin(ctx))

	has, err := v.HasPin(ctx)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestVault_StoresHashNotPin(t *testing.T) {
	ctx := context.Background()
	v, s := newVault(t)
	require.NoError(t, v.SetPin(ctx, "1234"))

	raw, err := s.Get(ctx, Key)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "1234")

	var rec record
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Len(t, rec.Salt, saltLen)
	assert.Len(t, rec.Hash, int(testParams.KeyLen))
	assert.Equal(t, testParams, rec.Params)
}

func TestVault_SaltIsRandom(t *testing.T) {
	ctx := context.Background()
	v, s := newVault(t)

	require.NoError(t, v.SetPin(ctx, "1234"))
	first, _ := s.Get(ctx, Key)
	require.NoError(t, v.SetPin(ctx, "1234"))
	second, _ := s.Get(ctx, Key)

	assert.NotEqual(t, string(first), string(second))
}

func TestVault_ValidatesWithStoredParams(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemory()

	require.NoError(t, New(s, WithParams(testParams)).SetPin(ctx, "2468"))

	other := New(s, WithParams(Params{Time: 2, Memory: 2048, Threads: 1, KeyLen: 32}))
	ok, err := other.Validate(ctx, "2468")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVault_UnknownVersion(t *testing.T) {
	ctx := context.Background()
	v, s := newVault(t)
	require.NoError(t, s.Set(ctx, Key, []byte(`{"version":99,"hash":"AA=="}`)))

	_, err := v.Validate(ctx, "1234")
	assert.Error(t, err)
}

// --- Lockout ---

func TestNoLockout(t *testing.T) {
	var p LockoutPolicy = NoLockout{}
	for i := 0; i < 100; i++ {
		assert.NoError(t, p.Allow(i))
	}
}

func TestRateLimited(t *testing.T) {
	clk := clocktest.New(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	p := NewRateLimited(RateLimitConfig{FreeAttempts: 2, Interval: 30 * time.Second, Burst: 1}, clk)

	t.Run("free attempts", func(t *testing.T) {
		assert.NoError(t, p.Allow(0))
		assert.NoError(t, p.Allow(1))
	})

	t.Run("throttled after free attempts", func(t *testing.T) {
		assert.NoError(t, p.Allow(2))
		assert.ErrorIs(t, p.Allow(3), apperrors.ErrTooManyAttempts)
	})

	t.Run("recovers after interval", func(t *testing.T) {
		clk.Advance(30 * time.Second)
		assert.NoError(t, p.Allow(3))
		assert.ErrorIs(t, p.Allow(4), apperrors.ErrTooManyAttempts)
	})

	t.Run("reset restores burst", func(t *testing.T) {
		p.Reset()
		assert.NoError(t, p.Allow(5))
	})
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	assert.Equal(t, 3, cfg.FreeAttempts)
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, 1, cfg.Burst)
}
