package history

import (
	"context"
	"time"

	"github.com/lcrostarosa/safecheck/internal/logging"
	"github.com/lcrostarosa/safecheck/internal/pubsub"
)

// allOwners marks a change that may touch any user's history.
const allOwners = ""

// Feed wraps a Store and lets callers watch a user's history as it changes.
type Feed struct {
	Store
	changes *pubsub.Topic[string]
}

// NewFeed wraps s.
func NewFeed(s Store) *Feed {
	return &Feed{Store: s, changes: pubsub.NewTopic[string](64)}
}

func (f *Feed) Append(ctx context.Context, e Entry) error {
	if err := f.Store.Append(ctx, e); err != nil {
		return err
	}
	f.changes.Publish(e.OwnerID)
	return nil
}

func (f *Feed) UpdateStatus(ctx context.Context, alertID string, status Status) ([]string, error) {
	owners, err := f.Store.UpdateStatus(ctx, alertID, status)
	if err != nil {
		return nil, err
	}
	for _, o := range owners {
		f.changes.Publish(o)
	}
	return owners, nil
}

func (f *Feed) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := f.Store.Purge(ctx, olderThan)
	if err == nil && n > 0 {
		f.changes.Publish(allOwners)
	}
	return n, err
}

func (f *Feed) ExpireUnacknowledged(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := f.Store.ExpireUnacknowledged(ctx, olderThan)
	if err == nil && n > 0 {
		f.changes.Publish(allOwners)
	}
	return n, err
}

// Watch emits ownerID's full history now and again after every change to
// it, until ctx is done. A slow reader only ever sees the latest snapshot.
func (f *Feed) Watch(ctx context.Context, ownerID string) <-chan []Entry {
	out := make(chan []Entry, 1)
	changes, cancel := f.changes.SubscribeUpdates()

	go func() {
		defer close(out)
		defer cancel()

		emit := func() bool {
			entries, err := f.Store.List(ctx, ownerID)
			if err != nil {
				if ctx.Err() == nil {
					logging.Warn("History watch query failed",
						logging.String("owner", ownerID),
						logging.Err(err))
				}
				return ctx.Err() == nil
			}
			// replace an unread snapshot
			select {
			case <-out:
			default:
			}
			select {
			case out <- entries:
			case <-ctx.Done():
				return false
			}
			return true
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case owner, ok := <-changes:
				if !ok {
					return
				}
				if owner != ownerID && owner != allOwners {
					continue
				}
				if !emit() {
					return
				}
			}
		}
	}()
	return out
}

// Close ends every watch.
func (f *Feed) Close() {
	f.changes.Close()
}
