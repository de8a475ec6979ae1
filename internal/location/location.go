// Package location provides device position fixes: single-shot for alert
// dispatch and as a continuous stream for location sharing.
package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
	"github.com/lcrostarosa/safecheck/internal/pubsub"
)

// Location is a position fix.
type Location struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Provider supplies position fixes.
type Provider interface {
	// LastKnown returns the most recent fix, waiting no longer than ctx
	// allows for one to arrive. It returns ErrLocationUnavailable when no fix
	// could be produced.
	LastKnown(ctx context.Context) (*Location, error)
	// Subscribe streams fixes at the provider's own cadence until ctx is
	// done, then closes the channel.
	Subscribe(ctx context.Context) (<-chan Location, error)
	PermissionGranted() bool
}

// Geocoder turns coordinates into a human readable place name.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (string, error)
}

// ShareSink receives live positions while location sharing is on.
type ShareSink interface {
	Publish(ctx context.Context, userID string, loc Location) error
	Clear(ctx context.Context, userID string) error
}

// Coordinates formats a position the way it is shown when no place name is known.
func Coordinates(lat, lon float64) string {
	return fmt.Sprintf("%.6f, %.6f", lat, lon)
}

// Feed is a Provider fed by Push. The MQTT provider and tests build on it.
type Feed struct {
	mu         sync.Mutex
	last       *Location
	arrived    chan struct{}
	permission bool
	topic      *pubsub.Topic[Location]
}

// NewFeed creates an empty feed with the given permission state.
func NewFeed(permission bool) *Feed {
	return &Feed{
		arrived:    make(chan struct{}),
		permission: permission,
		topic:      pubsub.NewTopic[Location](16),
	}
}

// Push records a new fix and forwards it to subscribers.
func (f *Feed) Push(loc Location) {
	f.mu.Lock()
	first := f.last == nil
	l := loc
	f.last = &l
	if first {
		close(f.arrived)
	}
	f.mu.Unlock()

	f.topic.Publish(loc)
}

// SetPermission changes the reported permission state.
func (f *Feed) SetPermission(granted bool) {
	f.mu.Lock()
	f.permission = granted
	f.mu.Unlock()
}

func (f *Feed) PermissionGranted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permission
}

func (f *Feed) LastKnown(ctx context.Context) (*Location, error) {
	f.mu.Lock()
	arrived := f.arrived
	f.mu.Unlock()

	select {
	case <-arrived:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", apperrors.ErrLocationUnavailable, ctx.Err())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	l := *f.last
	return &l, nil
}

// Subscribe streams fixes pushed after the call.
func (f *Feed) Subscribe(ctx context.Context) (<-chan Location, error) {
	src, cancel := f.topic.SubscribeUpdates()
	out := make(chan Location)
	go func() {
		defer close(out)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case loc, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- loc:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close ends every subscription.
func (f *Feed) Close() {
	f.topic.Close()
}
