// Package events carries change notifications from the sync engine to the
// rest of the application, so views can refresh when a sync rewrites records
// underneath them.
package events

import "sync"

// Source identifies what caused a change.
type Source string

const (
	SourceLocal Source = "local"
	SourcePull  Source = "pull"
)

// Change describes one record that was created, updated or removed.
type Change struct {
	Collection string
	Key        string
	Source     Source
}

// Bus is a fan-out publisher of Change events. Publishing never blocks: a
// subscriber whose channel is full misses the event.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Change
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Change)}
}

// Subscribe registers a listener. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe() (<-chan Change, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Change, 16)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers a change to every subscriber that has buffer space.
func (b *Bus) Publish(change Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- change:
		default:
		}
	}
}
