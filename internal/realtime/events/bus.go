package events

import "sync"

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine and must not block.
type Handler func(Event)

type subscription struct {
	id      uint64
	kind    Kind // zero matches every kind
	handler Handler
}

// Bus is a typed publish/subscribe hub
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for one event kind and returns a function
// that removes it
func (b *Bus) Subscribe(kind Kind, h Handler) func() {
	return b.add(kind, h)
}

// SubscribeAll registers a handler for every event kind
func (b *Bus) SubscribeAll(h Handler) func() {
	return b.add(0, h)
}

func (b *Bus) add(kind Kind, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, kind: kind, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to every matching handler in subscription order
func (b *Bus) Publish(e Event) {
	if b == nil || e == nil {
		return
	}
	kind := e.Kind()

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind == 0 || s.kind == kind {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
