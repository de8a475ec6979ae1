package kv

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helper functions ---

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, "safecheck:test:"), mr
}

func newFileStore(t *testing.T) *File {
	t.Helper()
	s, err := NewFile(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	return s
}

// contract runs the same assertions against every Store implementation.
func contract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "timer/state", []byte(`{"active":true}`)))
		got, err := s.Get(ctx, "timer/state")
		require.NoError(t, err)
		assert.Equal(t, `{"active":true}`, string(got))
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k", []byte("one")))
		require.NoError(t, s.Set(ctx, "k", []byte("two")))
		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "gone", []byte("x")))
		require.NoError(t, s.Delete(ctx, "gone"))
		_, err := s.Get(ctx, "gone")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete missing is not an error", func(t *testing.T) {
		assert.NoError(t, s.Delete(ctx, "never-set"))
	})
}

// --- Contract tests ---

func TestMemory(t *testing.T) {
	contract(t, NewMemory())
}

func TestFile(t *testing.T) {
	contract(t, newFileStore(t))
}

func TestRedis(t *testing.T) {
	s, _ := newRedisStore(t)
	contract(t, s)
}

// --- Implementation specifics ---

func TestMemory_CopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	buf := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", buf))
	buf[0] = 'z'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	got[1] = 'z'
	again, _ := s.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestFile_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "state")

	s1, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, "pin/record", []byte("hash")))

	s2, err := NewFile(dir)
	require.NoError(t, err)
	got, err := s2.Get(ctx, "pin/record")
	require.NoError(t, err)
	assert.Equal(t, "hash", string(got))
}

func TestFile_NoTempFilesLeft(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Set(ctx, "k", []byte{byte(i)}))
	}

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestFile_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Set(ctx, "shared", []byte{byte(i)}))
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFile_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newFileStore(t)
	assert.ErrorIs(t, s.Set(ctx, "k", []byte("v")), context.Canceled)
}

func TestNewFile_RequiresDir(t *testing.T) {
	_, err := NewFile("")
	assert.Error(t, err)
}

func TestRedis_UsesPrefix(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	require.NoError(t, s.Set(ctx, "timer/state", []byte("v")))
	assert.True(t, mr.Exists("safecheck:test:timer/state"))
}

func TestRedis_ServerDown(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)
	mr.Close()

	err := s.Set(ctx, "k", []byte("v"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
