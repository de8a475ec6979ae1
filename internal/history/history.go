// Package history records every alert delivery, once for the sender and
// once for the receiver.
package history

import (
	"context"
	"time"
)

// Type says whose view of an alert an entry is.
type Type string

const (
	Sent     Type = "SENT"
	Received Type = "RECEIVED"
)

// Status is the only mutable field of an entry.
type Status string

const (
	Delivered    Status = "DELIVERED"
	Acknowledged Status = "ACKNOWLEDGED"
	Expired      Status = "EXPIRED"
)

// Entry is one row of a user's alert history.
type Entry struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	AlertID      string    `json:"alert_id"`
	SenderID     string    `json:"sender_id"`
	SenderName   string    `json:"sender_name"`
	ReceiverID   string    `json:"receiver_id"`
	ReceiverName string    `json:"receiver_name"`
	Latitude     float64   `json:"lat"`
	Longitude    float64   `json:"lon"`
	LocationName string    `json:"location_name"`
	Type         Type      `json:"type"`
	Status       Status    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}

// Store is append-only apart from status transitions and age-based purging.
type Store interface {
	Append(ctx context.Context, e Entry) error
	// List returns ownerID's entries, newest first.
	List(ctx context.Context, ownerID string) ([]Entry, error)
	// UpdateStatus moves every DELIVERED entry of alertID to status and
	// returns the owners whose entries changed. It returns
	// ErrAlertNotFound when the alert has no delivered entries.
	UpdateStatus(ctx context.Context, alertID string, status Status) ([]string, error)
	// Purge deletes entries created before olderThan.
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
	// ExpireUnacknowledged marks DELIVERED entries created before
	// olderThan as EXPIRED.
	ExpireUnacknowledged(ctx context.Context, olderThan time.Time) (int64, error)
}
