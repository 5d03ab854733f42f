package webhook

import (
	"context"
	"fmt"
	"sync"
)

// Handler processes one verified event.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Registry maps known topics to handlers. Registration happens at startup;
// lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Topic]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Topic]Handler)}
}

// Register binds a handler to a known topic, replacing any previous binding.
func (r *Registry) Register(t Topic, h Handler) error {
	if !t.Known() {
		return fmt.Errorf("unknown webhook topic %q", t)
	}
	if h == nil {
		return fmt.Errorf("nil handler for topic %q", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
	return nil
}

// Lookup returns the handler for a raw topic string. ok is false for topics
// outside the enumeration and for known topics with nothing registered.
func (r *Registry) Lookup(topic string) (Handler, bool) {
	t := Topic(topic)
	if !t.Known() {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Topics lists the registered topics.
func (r *Registry) Topics() []Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Topic, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
