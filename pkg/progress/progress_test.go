package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_PublishAndSubscribe(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster()

	events, unsubscribe := b.Subscribe(4)
	defer unsubscribe()

	b.Publish(Event{Phase: "discovery", LibraryID: 1, Current: 1, Total: 10})

	event := <-events
	assert.Equal(t, "discovery", event.Phase)
	assert.Equal(t, 1, event.Current)
	assert.Equal(t, 10, event.Total)
}

func TestBroadcaster_DropsWhenFull(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster()

	events, unsubscribe := b.Subscribe(1)
	defer unsubscribe()

	// The second publish finds the buffer full and is dropped rather than
	// blocking the publisher.
	b.Publish(Event{Phase: "metadata", Current: 1})
	b.Publish(Event{Phase: "metadata", Current: 2})

	event := <-events
	assert.Equal(t, 1, event.Current)

	select {
	case e, ok := <-events:
		require.True(t, ok)
		t.Fatalf("unexpected event: %+v", e)
	default:
	}
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster()

	events, unsubscribe := b.Subscribe(1)
	unsubscribe()

	// The channel is closed and later publishes go nowhere.
	_, ok := <-events
	assert.False(t, ok)

	b.Publish(Event{Phase: "covers"})

	// Unsubscribing twice is safe.
	unsubscribe()
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster()

	first, unsubFirst := b.Subscribe(1)
	defer unsubFirst()
	second, unsubSecond := b.Subscribe(1)
	defer unsubSecond()

	b.Publish(Event{Phase: "series", Detail: "Batman"})

	assert.Equal(t, "Batman", (<-first).Detail)
	assert.Equal(t, "Batman", (<-second).Detail)
}
