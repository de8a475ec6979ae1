package kv

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// dirLock is an flock(2) based exclusive lock on dir/.lock, so that two
// processes sharing a data directory never interleave writes.
type dirLock struct {
	path string
	file *os.File
}

func newDirLock(dir string) *dirLock {
	return &dirLock{path: filepath.Join(dir, ".lock")}
}

func (l *dirLock) tryLock() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("acquire lock: %w", err)
	}

	l.file = f
	return true, nil
}

// lock polls with exponential backoff (10ms doubling up to 100ms) until the
// lock is held or timeout elapses.
func (l *dirLock) lock(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	wait := 10 * time.Millisecond

	for {
		ok, err := l.tryLock()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for lock on %s", l.path)
		}
		time.Sleep(wait)
		if wait < 100*time.Millisecond {
			wait *= 2
		}
	}
}

func (l *dirLock) unlock() error {
	if l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return closeErr
}

func (l *dirLock) with(timeout time.Duration, fn func() error) error {
	if err := l.lock(timeout); err != nil {
		return err
	}
	defer l.unlock()
	return fn()
}
