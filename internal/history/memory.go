package history

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
)

// Memory is an in-process Store.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) List(_ context.Context, ownerID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Entry
	for _, e := range m.entries {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (m *Memory) UpdateStatus(_ context.Context, alertID string, status Status) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var owners []string
	seen := make(map[string]bool)
	for i := range m.entries {
		e := &m.entries[i]
		if e.AlertID != alertID || e.Status != Delivered {
			continue
		}
		e.Status = status
		if !seen[e.OwnerID] {
			seen[e.OwnerID] = true
			owners = append(owners, e.OwnerID)
		}
	}
	if len(owners) == 0 {
		return nil, apperrors.ErrAlertNotFound
	}
	return owners, nil
}

func (m *Memory) Purge(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	var n int64
	for _, e := range m.entries {
		if e.Timestamp.Before(olderThan) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return n, nil
}

func (m *Memory) ExpireUnacknowledged(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for i := range m.entries {
		if m.entries[i].Status == Delivered && m.entries[i].Timestamp.Before(olderThan) {
			m.entries[i].Status = Expired
			n++
		}
	}
	return n, nil
}
