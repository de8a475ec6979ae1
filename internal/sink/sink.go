// Package sink implements per-contact pending-alert inboxes.
package sink

import (
	"context"
	"sort"
	"sync"

	"github.com/lcrostarosa/safecheck/internal/dispatch"
	"github.com/lcrostarosa/safecheck/internal/logging"
)

// Inbox is a sink whose pending alerts can be read back by the receiver.
type Inbox interface {
	dispatch.AlertSink
	Pending(ctx context.Context, contactID string) ([]dispatch.Alert, error)
}

// Memory is an in-process Inbox.
type Memory struct {
	mu     sync.Mutex
	queues map[string]map[string]dispatch.Alert
	fail   map[string]error
}

func NewMemory() *Memory {
	return &Memory{
		queues: make(map[string]map[string]dispatch.Alert),
		fail:   make(map[string]error),
	}
}

// FailFor makes every Enqueue for contactID return err (nil clears it).
func (m *Memory) FailFor(contactID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, contactID)
		return
	}
	m.fail[contactID] = err
}

func (m *Memory) Enqueue(_ context.Context, contactID string, a dispatch.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[contactID]; err != nil {
		return err
	}
	q, ok := m.queues[contactID]
	if !ok {
		q = make(map[string]dispatch.Alert)
		m.queues[contactID] = q
	}
	q[a.ID] = a
	return nil
}

func (m *Memory) Delete(_ context.Context, contactID, alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues[contactID], alertID)
	return nil
}

func (m *Memory) Pending(_ context.Context, contactID string) ([]dispatch.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]dispatch.Alert, 0, len(m.queues[contactID]))
	for _, a := range m.queues[contactID] {
		out = append(out, a)
	}
	sortAlerts(out)
	return out, nil
}

// Total returns the number of pending alerts across all contacts.
func (m *Memory) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.queues {
		n += len(q)
	}
	return n
}

// Fanout writes to a primary inbox and mirrors to notifiers. Only the
// primary decides success; a notifier failure is logged.
type Fanout struct {
	Primary   Inbox
	Notifiers []dispatch.AlertSink
}

func (f *Fanout) Enqueue(ctx context.Context, contactID string, a dispatch.Alert) error {
	if err := f.Primary.Enqueue(ctx, contactID, a); err != nil {
		return err
	}
	for _, n := range f.Notifiers {
		if err := n.Enqueue(ctx, contactID, a); err != nil {
			logging.Warn("Alert notifier failed",
				logging.String("contact", contactID),
				logging.String("alert", a.ID),
				logging.Err(err))
		}
	}
	return nil
}

func (f *Fanout) Delete(ctx context.Context, contactID, alertID string) error {
	if err := f.Primary.Delete(ctx, contactID, alertID); err != nil {
		return err
	}
	for _, n := range f.Notifiers {
		if err := n.Delete(ctx, contactID, alertID); err != nil {
			logging.Warn("Alert notifier delete failed",
				logging.String("contact", contactID),
				logging.String("alert", alertID),
				logging.Err(err))
		}
	}
	return nil
}

func (f *Fanout) Pending(ctx context.Context, contactID string) ([]dispatch.Alert, error) {
	return f.Primary.Pending(ctx, contactID)
}

// oldest first
func sortAlerts(alerts []dispatch.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Timestamp.Equal(alerts[j].Timestamp) {
			return alerts[i].ID < alerts[j].ID
		}
		return alerts[i].Timestamp.Before(alerts[j].Timestamp)
	})
}
