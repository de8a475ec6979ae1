// Package dispatch fans an expiry alert out to every emergency contact.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lcrostarosa/safecheck/internal/clock"
	"github.com/lcrostarosa/safecheck/internal/directory"
	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
	"github.com/lcrostarosa/safecheck/internal/history"
	"github.com/lcrostarosa/safecheck/internal/location"
	"github.com/lcrostarosa/safecheck/internal/logging"
)

const (
	DefaultLocationTimeout = 10 * time.Second
	DefaultGeocodeTimeout  = 3 * time.Second
)

// Alert is delivered to one contact's pending-alert queue.
type Alert struct {
	ID           string    `json:"id"`
	SenderID     string    `json:"sender_id"`
	SenderName   string    `json:"sender_name"`
	Latitude     float64   `json:"lat"`
	Longitude    float64   `json:"lon"`
	LocationName string    `json:"location_name"`
	Timestamp    time.Time `json:"timestamp"`
}

// AlertSink is a per-contact inbox of undelivered alerts. Writes for
// different contacts never conflict.
type AlertSink interface {
	Enqueue(ctx context.Context, contactID string, a Alert) error
	Delete(ctx context.Context, contactID, alertID string) error
}

// HistoryWriter is the part of the history store the dispatcher writes to.
type HistoryWriter interface {
	Append(ctx context.Context, e history.Entry) error
	UpdateStatus(ctx context.Context, alertID string, status history.Status) ([]string, error)
}

// ContactFailure records why one contact was not alerted.
type ContactFailure struct {
	ContactID string
	Err       error
}

// Result describes a completed fan-out.
type Result struct {
	Notified      int
	Failed        int
	Failures      []ContactFailure
	HistoryErrors int
	AlertIDs      []string
	Location      location.Location
	LocationName  string
}

// Dispatcher sends expiry alerts.
type Dispatcher struct {
	sink     AlertSink
	history  HistoryWriter
	locator  location.Provider
	geocoder location.Geocoder
	clock    clock.Clock
	retry    *RetryStrategy

	locationTimeout time.Duration
	geocodeTimeout  time.Duration
	newID           func() string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithGeocoder enables reverse geocoding of the alert location.
func WithGeocoder(g location.Geocoder) Option {
	return func(d *Dispatcher) { d.geocoder = g }
}

// WithClock sets the time source for alert timestamps and retry backoff.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithRetry retries failed enqueues.
func WithRetry(r *RetryStrategy) Option {
	return func(d *Dispatcher) { d.retry = r }
}

// WithLocationTimeout bounds the wait for a location fix.
func WithLocationTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.locationTimeout = t
		}
	}
}

// WithGeocodeTimeout bounds the reverse geocoding call.
func WithGeocodeTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.geocodeTimeout = t
		}
	}
}

// WithIDGenerator overrides alert id generation.
func WithIDGenerator(fn func() string) Option {
	return func(d *Dispatcher) { d.newID = fn }
}

// New creates a dispatcher.
func New(sink AlertSink, hist HistoryWriter, locator location.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:            sink,
		history:         hist,
		locator:         locator,
		retry:           NoRetry(),
		locationTimeout: DefaultLocationTimeout,
		geocodeTimeout:  DefaultGeocodeTimeout,
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.clock = clock.OrReal(d.clock)
	return d
}

// SendExpiryAlert alerts every contact with the sender's last known
// location. A failure for one contact never stops or undoes delivery to the
// others; when some fail the result is returned together with a
// *PartialFailureError.
func (d *Dispatcher) SendExpiryAlert(ctx context.Context, senderID string, profile *directory.Profile, contacts []directory.Contact) (*Result, error) {
	if profile == nil || profile.ID == "" {
		return nil, apperrors.ErrProfileNotFound
	}
	if senderID == "" {
		senderID = profile.ID
	}
	if len(contacts) == 0 {
		return nil, apperrors.ErrNoContacts
	}

	loc, err := d.locate(ctx)
	if err != nil {
		logging.Error("Expiry alert aborted: no location",
			logging.String("sender", senderID),
			logging.Err(err))
		return nil, err
	}
	name := d.placeName(ctx, loc)

	res := &Result{Location: *loc, LocationName: name}
	now := d.clock.Now()

	for _, c := range contacts {
		alert := Alert{
			ID:           d.newID(),
			SenderID:     senderID,
			SenderName:   profile.DisplayName,
			Latitude:     loc.Latitude,
			Longitude:    loc.Longitude,
			LocationName: name,
			Timestamp:    now,
		}

		if err := d.enqueue(ctx, c.ID, alert); err != nil {
			res.Failed++
			res.Failures = append(res.Failures, ContactFailure{ContactID: c.ID, Err: err})
			logging.Warn("Failed to deliver alert",
				logging.String("contact", c.ID),
				logging.String("alert", alert.ID),
				logging.Err(err))
			continue
		}
		res.Notified++
		res.AlertIDs = append(res.AlertIDs, alert.ID)

		res.HistoryErrors += d.record(ctx, alert, c)
	}

	logging.Info("Expiry alert dispatched",
		logging.String("sender", senderID),
		logging.Int("notified", res.Notified),
		logging.Int("failed", res.Failed),
		logging.String("location", name))

	if res.Failed > 0 {
		return res, &apperrors.PartialFailureError{Succeeded: res.Notified, Failed: res.Failed}
	}
	return res, nil
}

// Acknowledge removes an alert from receiverID's inbox and marks both
// history entries of it ACKNOWLEDGED.
func (d *Dispatcher) Acknowledge(ctx context.Context, receiverID, alertID string) error {
	if err := d.sink.Delete(ctx, receiverID, alertID); err != nil {
		return fmt.Errorf("delete alert %s: %w", alertID, err)
	}
	if _, err := d.history.UpdateStatus(ctx, alertID, history.Acknowledged); err != nil {
		return err
	}
	logging.Info("Alert acknowledged",
		logging.String("receiver", receiverID),
		logging.String("alert", alertID))
	return nil
}

func (d *Dispatcher) locate(ctx context.Context) (*location.Location, error) {
	lctx, cancel := context.WithTimeout(ctx, d.locationTimeout)
	defer cancel()

	loc, err := d.locator.LastKnown(lctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrLocationUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrLocationUnavailable, err)
	}
	if loc == nil {
		return nil, apperrors.ErrLocationUnavailable
	}
	return loc, nil
}

func (d *Dispatcher) placeName(ctx context.Context, loc *location.Location) string {
	fallback := location.Coordinates(loc.Latitude, loc.Longitude)
	if d.geocoder == nil {
		return fallback
	}

	gctx, cancel := context.WithTimeout(ctx, d.geocodeTimeout)
	defer cancel()

	name, err := d.geocoder.ReverseGeocode(gctx, loc.Latitude, loc.Longitude)
	if err != nil || name == "" {
		logging.Debug("Reverse geocoding failed, using coordinates", logging.Err(err))
		return fallback
	}
	return name
}

func (d *Dispatcher) enqueue(ctx context.Context, contactID string, a Alert) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = d.sink.Enqueue(ctx, contactID, a); err == nil {
			return nil
		}
		if !d.retry.ShouldRetry(attempt) {
			return err
		}
		if clock.Sleep(ctx, d.clock, d.retry.NextDelay(attempt+1)) != nil {
			return err
		}
	}
}

// record appends the SENT and RECEIVED entries and returns how many failed.
func (d *Dispatcher) record(ctx context.Context, a Alert, c directory.Contact) int {
	base := history.Entry{
		AlertID:      a.ID,
		SenderID:     a.SenderID,
		SenderName:   a.SenderName,
		ReceiverID:   c.ID,
		ReceiverName: c.DisplayName,
		Latitude:     a.Latitude,
		Longitude:    a.Longitude,
		LocationName: a.LocationName,
		Status:       history.Delivered,
		Timestamp:    a.Timestamp,
	}

	sent := base
	sent.ID = a.ID + ":sent"
	sent.OwnerID = a.SenderID
	sent.Type = history.Sent

	received := base
	received.ID = a.ID + ":received"
	received.OwnerID = c.ID
	received.Type = history.Received

	failed := 0
	for _, e := range []history.Entry{sent, received} {
		if err := d.history.Append(ctx, e); err != nil {
			failed++
			logging.Warn("Failed to record alert history",
				logging.String("alert", a.ID),
				logging.String("owner", e.OwnerID),
				logging.Err(err))
		}
	}
	return failed
}
