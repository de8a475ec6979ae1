package feed

import (
	"context"

	"github.com/lcrostarosa/safecheck/internal/checkin"
	"github.com/lcrostarosa/safecheck/internal/history"
	"github.com/lcrostarosa/safecheck/internal/rpc"
	"github.com/lcrostarosa/safecheck/internal/sharing"
)

// Subscriber is an observable state topic.
type Subscriber[T any] interface {
	Subscribe() (<-chan T, func())
}

// Sources feed the hub. Any of them may be nil.
type Sources struct {
	Timer   Subscriber[checkin.Snapshot]
	Sharing Subscriber[sharing.Snapshot]
	// History is typically history.Feed.Watch for the signed-in user.
	History <-chan []history.Entry
}

// Pump broadcasts every update from src until ctx is done or all sources
// have closed.
func Pump(ctx context.Context, hub *Hub, src Sources) {
	var (
		timerCh   <-chan checkin.Snapshot
		sharingCh <-chan sharing.Snapshot
	)
	if src.Timer != nil {
		ch, cancel := src.Timer.Subscribe()
		defer cancel()
		timerCh = ch
	}
	if src.Sharing != nil {
		ch, cancel := src.Sharing.Subscribe()
		defer cancel()
		sharingCh = ch
	}
	historyCh := src.History

	for timerCh != nil || sharingCh != nil || historyCh != nil {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-timerCh:
			if !ok {
				timerCh = nil
				continue
			}
			hub.Broadcast(Message{Type: TypeTimer, Timer: rpc.TimerStatusOf(s)})
		case s, ok := <-sharingCh:
			if !ok {
				sharingCh = nil
				continue
			}
			hub.Broadcast(Message{Type: TypeSharing, Sharing: rpc.SharingStatusOf(s)})
		case entries, ok := <-historyCh:
			if !ok {
				historyCh = nil
				continue
			}
			hub.Broadcast(Message{Type: TypeHistory, History: rpc.HistoryEntriesOf(entries)})
		}
	}
}
