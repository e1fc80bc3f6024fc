package progress

import "sync"

// Event is a point-in-time progress report from the scan pipeline or the
// cover queue.
type Event struct {
	Phase     string `json:"phase"`
	LibraryID int    `json:"library_id,omitempty"`
	JobID     int    `json:"job_id,omitempty"`
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	Detail    string `json:"detail,omitempty"`
}

// Broadcaster fans events out to the current set of subscribers. Delivery is
// best-effort: there is no replay buffer, and a subscriber whose channel is
// full misses the event. Callers needing guaranteed delivery poll job status
// instead.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[int]chan Event),
	}
}

// Subscribe registers a listener and returns its channel along with an
// unsubscribe function. The buffer bounds how far a slow listener can lag
// before it starts missing events.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(ch)
		}
	}

	return ch, unsubscribe
}

// Publish sends the event to every subscriber without blocking.
func (b *Broadcaster) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Slow subscriber; it misses this event.
		}
	}
}
