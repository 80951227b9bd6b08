package connection

import (
	"sync"

	"courier/internal/domain"
)

// Bus is a synchronous publish/subscribe registry keyed by event type.
// Handlers run on the publishing goroutine and must not block for long.
type Bus struct {
	mu       sync.RWMutex
	next     int
	handlers map[domain.EventType]map[int]func(domain.Event)
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[domain.EventType]map[int]func(domain.Event))}
}

// Subscribe registers handler for events of type t. Calling the returned
// function removes the handler; it is safe to call more than once.
func (b *Bus) Subscribe(t domain.EventType, handler func(domain.Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	if b.handlers[t] == nil {
		b.handlers[t] = make(map[int]func(domain.Event))
	}
	b.handlers[t][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers[t], id)
		})
	}
}

// Publish delivers ev to every handler subscribed to ev.Type.
func (b *Bus) Publish(ev domain.Event) {
	b.mu.RLock()
	hs := make([]func(domain.Event), 0, len(b.handlers[ev.Type]))
	for _, h := range b.handlers[ev.Type] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
}

var _ domain.EventSubscriber = (*Bus)(nil)
