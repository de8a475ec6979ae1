package kv

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const lockTimeout = 5 * time.Second

// File stores each key as its own file under a directory. Writes go to a
// temporary file that is synced and renamed over the target, so a crash
// leaves either the old or the new value on disk.
type File struct {
	dir string
	mu  sync.Mutex
}

// NewFile creates a file-backed store rooted at dir.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("kv: directory required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create kv directory: %w", err)
	}
	return &File{dir: dir}, nil
}

// Dir returns the root directory.
func (f *File) Dir() string { return f.dir }

// keys may contain '/', which must not create nested paths
func (f *File) path(key string) string {
	return filepath.Join(f.dir, hex.EncodeToString([]byte(key))+".val")
}

func (f *File) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	return data, nil
}

func (f *File) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return newDirLock(f.dir).with(lockTimeout, func() error {
		tmp, err := os.CreateTemp(f.dir, ".tmp-*")
		if err != nil {
			return fmt.Errorf("create temp file: %w", err)
		}
		tmpName := tmp.Name()
		defer os.Remove(tmpName)

		if _, err := tmp.Write(value); err != nil {
			tmp.Close()
			return fmt.Errorf("write %q: %w", key, err)
		}
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return fmt.Errorf("sync %q: %w", key, err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("close %q: %w", key, err)
		}
		if err := os.Rename(tmpName, f.path(key)); err != nil {
			return fmt.Errorf("commit %q: %w", key, err)
		}
		return nil
	})
}

func (f *File) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return newDirLock(f.dir).with(lockTimeout, func() error {
		if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete %q: %w", key, err)
		}
		return nil
	})
}
