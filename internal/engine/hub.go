package engine

import (
	"sync"

	"atelier/internal/capability"
)

// Hub fans engine emissions out to subscribers. Emit may be called from the
// engine's reader goroutine; callbacks run on the emitting goroutine, so
// subscribers must hand work off quickly.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]func(capability.Event)
	next   int
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: map[int]func(capability.Event){}}
}

// Subscribe registers fn and returns its handle. Closing the handle twice is
// a no-op.
func (h *Hub) Subscribe(fn func(capability.Event)) (capability.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, capability.Wrap(capability.ErrUnavailable, "engine", "subscribe", "engine closed", nil)
	}
	h.next++
	id := h.next
	h.subs[id] = fn
	return &subscription{hub: h, id: id}, nil
}

// Emit delivers ev to every current subscriber.
func (h *Hub) Emit(ev capability.Event) {
	h.mu.Lock()
	fns := make([]func(capability.Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Close drops all subscribers and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.subs = map[int]func(capability.Event){}
}

type subscription struct {
	hub  *Hub
	id   int
	once sync.Once
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
	})
}
