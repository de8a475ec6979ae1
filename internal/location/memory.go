package location

import (
	"context"
	"sync"
)

// MemoryShareSink keeps shared positions in memory.
type MemoryShareSink struct {
	mu      sync.Mutex
	latest  map[string]Location
	history map[string][]Location
}

func NewMemoryShareSink() *MemoryShareSink {
	return &MemoryShareSink{
		latest:  make(map[string]Location),
		history: make(map[string][]Location),
	}
}

func (m *MemoryShareSink) Publish(_ context.Context, userID string, loc Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[userID] = loc
	m.history[userID] = append(m.history[userID], loc)
	return nil
}

func (m *MemoryShareSink) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.latest, userID)
	return nil
}

// Latest returns the currently shared position of userID.
func (m *MemoryShareSink) Latest(userID string) (Location, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.latest[userID]
	return l, ok
}

// Published returns every position ever shared by userID.
func (m *MemoryShareSink) Published(userID string) []Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Location(nil), m.history[userID]...)
}
