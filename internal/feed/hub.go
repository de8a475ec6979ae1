// Package feed streams the countdown, sharing state and alert history to
// WebSocket clients. It is the single tick stream a UI renders from.
package feed

import (
	"encoding/json"
	"sync"

	"github.com/lcrostarosa/safecheck/internal/logging"
	"github.com/lcrostarosa/safecheck/internal/rpc"
)

// Message types.
const (
	TypeTimer   = "timer"
	TypeSharing = "sharing"
	TypeHistory = "history"
)

// Message is one update pushed to every client.
type Message struct {
	Type    string             `json:"type"`
	Timer   *rpc.TimerStatus   `json:"timer,omitempty"`
	Sharing *rpc.SharingStatus `json:"sharing,omitempty"`
	History []rpc.HistoryEntry `json:"history,omitempty"`
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
// It remembers the latest message of each type so a new client starts from
// the current state.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	latest  map[string][]byte
	order   []string
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		latest:  make(map[string][]byte),
	}
}

// Register adds a client to the hub and queues the latest state for it.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	for _, typ := range h.order {
		select {
		case c.send <- h.latest[typ]:
		default:
		}
	}
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error("Failed to marshal feed message", logging.Err(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.latest[msg.Type]; !ok {
		h.order = append(h.order, msg.Type)
	}
	h.latest[msg.Type] = data

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client buffer full, drop rather than block the countdown
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
