package events

import (
	"sync"
	"time"
)

// StorageQuotaExceeded is dispatched when a persistence write is rejected
// because storage is full. It carries no payload.
const StorageQuotaExceeded = "flowscribe:storage-quota-exceeded"

// SessionChanged is dispatched by the HTTP API after a request mutated the
// Store Context, so other open editors can refresh their view.
const SessionChanged = "flowscribe:session-changed"

// Event is one dispatched notification.
type Event struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

// Handler receives dispatched events. Handlers run on the dispatching
// goroutine and must not block.
type Handler func(Event)

// Bus fans events out to subscribers. The zero value is ready to use.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]subscription
}

type subscription struct {
	name    string
	handler Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers handler for events called name. An empty name
// subscribes to every event. The returned function removes the subscription.
func (b *Bus) Subscribe(name string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[uint64]subscription)
	}
	b.nextID++
	id := b.nextID
	b.handlers[id] = subscription{name: name, handler: handler}
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Dispatch delivers an event to every matching subscriber. A nil bus drops it.
func (b *Bus) Dispatch(name string) {
	if b == nil {
		return
	}
	b.mu.RLock()
	var targets []Handler
	for _, sub := range b.handlers {
		if sub.name == "" || sub.name == name {
			targets = append(targets, sub.handler)
		}
	}
	b.mu.RUnlock()

	ev := Event{Name: name, At: time.Now()}
	for _, handler := range targets {
		handler(ev)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
