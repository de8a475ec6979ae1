package rpc

import (
	"github.com/lcrostarosa/safecheck/internal/checkin"
	"github.com/lcrostarosa/safecheck/internal/dispatch"
	"github.com/lcrostarosa/safecheck/internal/history"
	"github.com/lcrostarosa/safecheck/internal/location"
	"github.com/lcrostarosa/safecheck/internal/sharing"
)

// ============================================================================
// Timer
// ============================================================================

type StartTimerRequest struct {
	Minutes int `json:"minutes"`
}

type CheckInRequest struct {
	Pin string `json:"pin"`
}

type TimerStatus struct {
	Phase             string        `json:"phase"`
	Remaining         *Duration     `json:"remaining,omitempty"`
	EndTimestamp      *Timestamp    `json:"end_timestamp,omitempty"`
	IncorrectAttempts int           `json:"incorrect_attempts"`
	Outcome           *AlertOutcome `json:"outcome,omitempty"`
}

// AlertOutcome is the result of the last expiry fan-out.
type AlertOutcome struct {
	Notified int        `json:"notified"`
	Failed   int        `json:"failed"`
	AlertIDs []string   `json:"alert_ids,omitempty"`
	Error    string     `json:"error,omitempty"`
	At       *Timestamp `json:"at,omitempty"`
}

// ============================================================================
// PIN
// ============================================================================

type SetPinRequest struct {
	// Current is required when a PIN is already set.
	Current string `json:"current,omitempty"`
	Pin     string `json:"pin"`
}

type RemovePinRequest struct {
	Current string `json:"current"`
}

type PinStatus struct {
	HasPin bool `json:"has_pin"`
}

// ============================================================================
// Sharing
// ============================================================================

type StartSharingRequest struct {
	Delay    *Duration `json:"delay,omitempty"`
	Duration *Duration `json:"duration,omitempty"`
}

type SharingStatus struct {
	Phase      string    `json:"phase"`
	Remaining  *Duration `json:"remaining,omitempty"`
	Indefinite bool      `json:"indefinite"`
	Last       *Location `json:"last,omitempty"`
}

type Location struct {
	Latitude  float64    `json:"lat"`
	Longitude float64    `json:"lon"`
	Accuracy  float64    `json:"accuracy,omitempty"`
	Timestamp *Timestamp `json:"timestamp,omitempty"`
}

// ============================================================================
// Alerts and history
// ============================================================================

type ListHistoryRequest struct {
	// OwnerID defaults to the signed-in user.
	OwnerID string `json:"owner_id,omitempty"`
}

type ListHistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

type HistoryEntry struct {
	ID           string     `json:"id"`
	AlertID      string     `json:"alert_id"`
	SenderID     string     `json:"sender_id"`
	SenderName   string     `json:"sender_name"`
	ReceiverID   string     `json:"receiver_id"`
	ReceiverName string     `json:"receiver_name"`
	Latitude     float64    `json:"lat"`
	Longitude    float64    `json:"lon"`
	LocationName string     `json:"location_name"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	Timestamp    *Timestamp `json:"timestamp,omitempty"`
}

type PendingAlertsRequest struct {
	ContactID string `json:"contact_id"`
}

type PendingAlertsResponse struct {
	Alerts []Alert `json:"alerts"`
}

type Alert struct {
	ID           string     `json:"id"`
	SenderID     string     `json:"sender_id"`
	SenderName   string     `json:"sender_name"`
	Latitude     float64    `json:"lat"`
	Longitude    float64    `json:"lon"`
	LocationName string     `json:"location_name"`
	Timestamp    *Timestamp `json:"timestamp,omitempty"`
}

type AcknowledgeRequest struct {
	ContactID string `json:"contact_id"`
	AlertID   string `json:"alert_id"`
}

// ============================================================================
// Converters
// ============================================================================

// mapSlice converts a slice of type T to a slice of type R.
func mapSlice[T, R any](items []T, convert func(T) R) []R {
	result := make([]R, len(items))
	for i, item := range items {
		result[i] = convert(item)
	}
	return result
}

// TimerStatusOf converts a controller snapshot to its wire form.
func TimerStatusOf(s checkin.Snapshot) *TimerStatus {
	out := &TimerStatus{
		Phase:             s.Phase.String(),
		IncorrectAttempts: s.IncorrectAttempts,
	}
	if s.Phase == checkin.Active || s.Phase == checkin.Expiring {
		out.Remaining = NewDuration(s.Remaining)
		out.EndTimestamp = NewTimestamp(s.EndTimestamp)
	}
	if o := s.Outcome; o != nil {
		out.Outcome = &AlertOutcome{
			Notified: o.Notified,
			Failed:   o.Failed,
			AlertIDs: o.AlertIDs,
			At:       NewTimestamp(o.At),
		}
		if o.Err != nil {
			out.Outcome.Error = o.Err.Error()
		}
	}
	return out
}

// SharingStatusOf converts a sharing snapshot to its wire form.
func SharingStatusOf(s sharing.Snapshot) *SharingStatus {
	out := &SharingStatus{
		Phase:      s.Phase.String(),
		Indefinite: s.Indefinite,
	}
	if s.Phase != sharing.Idle && !s.Indefinite {
		out.Remaining = NewDuration(s.Remaining)
	}
	if s.Last != nil {
		out.Last = toLocation(*s.Last)
	}
	return out
}

func toLocation(l location.Location) *Location {
	return &Location{
		Latitude:  l.Latitude,
		Longitude: l.Longitude,
		Accuracy:  l.Accuracy,
		Timestamp: NewTimestamp(l.Timestamp),
	}
}

// HistoryEntriesOf converts history rows to their wire form.
func HistoryEntriesOf(entries []history.Entry) []HistoryEntry {
	return mapSlice(entries, HistoryEntryOf)
}

func HistoryEntryOf(e history.Entry) HistoryEntry {
	return HistoryEntry{
		ID:           e.ID,
		AlertID:      e.AlertID,
		SenderID:     e.SenderID,
		SenderName:   e.SenderName,
		ReceiverID:   e.ReceiverID,
		ReceiverName: e.ReceiverName,
		Latitude:     e.Latitude,
		Longitude:    e.Longitude,
		LocationName: e.LocationName,
		Type:         string(e.Type),
		Status:       string(e.Status),
		Timestamp:    NewTimestamp(e.Timestamp),
	}
}

func toAlert(a dispatch.Alert) Alert {
	return Alert{
		ID:           a.ID,
		SenderID:     a.SenderID,
		SenderName:   a.SenderName,
		Latitude:     a.Latitude,
		Longitude:    a.Longitude,
		LocationName: a.LocationName,
		Timestamp:    NewTimestamp(a.Timestamp),
	}
}
