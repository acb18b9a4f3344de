package transport

import (
	"log/slog"
	"sync"
)

// Handler receives every event of the kind it was subscribed to.
type Handler func(Event)

type subscriber struct {
	id uint64
	fn Handler
}

// Bus fans events out to subscribers. Handlers of a kind run synchronously in
// subscription order on the publishing goroutine.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Kind][]subscriber
	nextID uint64
	logger *slog.Logger
}

// NewBus creates an empty bus. A nil logger falls back to slog.Default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[Kind][]subscriber), logger: logger}
}

// Subscription removes its handler when Off is called. Off is idempotent.
type Subscription struct {
	bus  *Bus
	kind Kind
	id   uint64
	once sync.Once
}

// Off detaches the handler. Publish calls that start after Off returns never
// reach it.
func (s *Subscription) Off() {
	if s == nil || s.bus == nil {
		return
	}
	s.once.Do(func() { s.bus.remove(s.kind, s.id) })
}

// On subscribes fn to events of type E.
func On[E Event](b *Bus, fn func(E)) *Subscription {
	var zero E
	return b.Subscribe(zero.Kind(), func(ev Event) {
		if e, ok := ev.(E); ok {
			fn(e)
		}
	})
}

// Subscribe registers h for kind.
func (b *Bus) Subscribe(kind Kind, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[kind] = append(b.subs[kind], subscriber{id: b.nextID, fn: h})
	return &Subscription{bus: b, kind: kind, id: b.nextID}
}

// Publish delivers ev to the handlers registered for its kind. A panicking
// handler is logged and the remaining handlers still run.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := b.subs[ev.Kind()]
	b.mu.RUnlock()

	for _, s := range subs {
		if !b.active(ev.Kind(), s.id) {
			continue
		}
		b.invoke(s, ev)
	}
}

// Len reports how many handlers are registered for kind.
func (b *Bus) Len(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}

func (b *Bus) invoke(s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "kind", ev.Kind(), "panic", r)
		}
	}()
	s.fn(ev)
}

// active reports whether subscriber id is still registered. A handler may
// unsubscribe a later one while an event is being delivered.
func (b *Bus) active(kind Kind, id uint64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[kind] {
		if s.id == id {
			return true
		}
	}
	return false
}

func (b *Bus) remove(kind Kind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[kind]
	for i, s := range list {
		if s.id != id {
			continue
		}
		// copy so a Publish iterating the old slice is unaffected
		next := make([]subscriber, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, kind)
		} else {
			b.subs[kind] = next
		}
		return
	}
}
