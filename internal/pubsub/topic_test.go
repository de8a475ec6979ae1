package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic_PublishSubscribe(t *testing.T) {
	topic := NewTopic[int](4)
	ch, cancel := topic.Subscribe()
	defer cancel()

	topic.Publish(1)
	topic.Publish(2)

	assert.Equal(t, 1, <-ch)
	assert.Equal(t, 2, <-ch)
	assert.Equal(t, 1, topic.Subscribers())
}

func TestTopic_PrimesWithLastValue(t *testing.T) {
	topic := NewTopic[string](1)
	topic.Publish("hello")

	ch, cancel := topic.Subscribe()
	defer cancel()

	assert.Equal(t, "hello", <-ch)
}

func TestTopic_SlowReaderKeepsLatest(t *testing.T) {
	topic := NewTopic[int](1)
	ch, cancel := topic.Subscribe()
	defer cancel()

	for i := 0; i < 10; i++ {
		topic.Publish(i)
	}

	assert.Equal(t, 9, <-ch)
}

func TestTopic_CancelClosesChannel(t *testing.T) {
	topic := NewTopic[int](1)
	ch, cancel := topic.Subscribe()
	cancel()
	cancel() // idempotent

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, topic.Subscribers())
}

func TestTopic_Close(t *testing.T) {
	topic := NewTopic[int](1)
	ch, _ := topic.Subscribe()
	topic.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := topic.Subscribe()
	_, ok = <-late
	assert.False(t, ok)

	topic.Publish(1) // must not panic
	v, ok := topic.Last()
	require.False(t, ok)
	assert.Zero(t, v)
}

func TestTopic_SubscribeUpdatesSkipsLast(t *testing.T) {
	topic := NewTopic[string](2)
	topic.Publish("old")

	ch, cancel := topic.SubscribeUpdates()
	defer cancel()
	assert.Empty(t, ch)

	topic.Publish("new")
	require.Len(t, ch, 1)
	assert.Equal(t, "new", <-ch)
}
