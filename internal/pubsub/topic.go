// Package pubsub provides a small in-process fan-out topic used to make
// component state observable without letting slow readers block writers.
package pubsub

import "sync"

// Topic broadcasts values of type T to every subscriber. Each subscriber has
// a buffered channel; when it is full the oldest pending value is dropped so
// a reader always converges on the latest state.
type Topic[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	buffer int
	last   *T
	closed bool
}

// NewTopic creates a topic with the given per-subscriber buffer (minimum 1).
func NewTopic[T any](buffer int) *Topic[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Topic[T]{
		subs:   make(map[int]chan T),
		buffer: buffer,
	}
}

// Subscribe returns a channel receiving future values, primed with the most
// recently published value if there is one. Call cancel to unsubscribe.
func (t *Topic[T]) Subscribe() (<-chan T, func()) {
	return t.subscribe(true)
}

// SubscribeUpdates is like Subscribe but only delivers values published
// after the call.
func (t *Topic[T]) SubscribeUpdates() (<-chan T, func()) {
	return t.subscribe(false)
}

func (t *Topic[T]) subscribe(prime bool) (<-chan T, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan T, t.buffer)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	if prime && t.last != nil {
		ch <- *t.last
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if c, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers v to every subscriber without blocking.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.last = &v
	for _, ch := range t.subs {
		for {
			select {
			case ch <- v:
			default:
				// Full: drop the oldest value and retry.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Last returns the most recently published value.
func (t *Topic[T]) Last() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		var zero T
		return zero, false
	}
	return *t.last, true
}

// Subscribers returns the number of active subscribers.
func (t *Topic[T]) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close closes every subscriber channel. Later publishes are ignored.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}
