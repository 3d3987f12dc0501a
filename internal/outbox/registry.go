package outbox

import (
	"context"
	"sort"

	"github.com/dukerupert/orderflow/internal/domain"
)

// Handler consumes dispatched events. Handlers must be idempotent: an event is
// redelivered when any handler for it fails, although handlers that already
// succeeded are skipped using delivery receipts.
type Handler interface {
	Name() string
	Handle(ctx context.Context, e domain.Event) error
}

// HandlerFunc adapts a function to a named Handler.
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, e domain.Event) error
}

func (h HandlerFunc) Name() string { return h.HandlerName }

func (h HandlerFunc) Handle(ctx context.Context, e domain.Event) error {
	return h.Fn(ctx, e)
}

// Registry maps event types to handlers in registration order.
// It is built at startup and read-only afterwards.
type Registry struct {
	handlers map[domain.EventType][]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.EventType][]Handler)}
}

// Register subscribes h to the given event types. With no types, h receives
// every known event type.
func (r *Registry) Register(h Handler, types ...domain.EventType) {
	if len(types) == 0 {
		types = domain.EventTypes()
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	}
	for _, t := range types {
		r.handlers[t] = append(r.handlers[t], h)
	}
}

// MaxHandlers returns the largest number of handlers registered for any one
// event type.
func (r *Registry) MaxHandlers() int {
	n := 0
	for _, hs := range r.handlers {
		n = max(n, len(hs))
	}
	return n
}

// Handlers returns the handlers registered for t.
func (r *Registry) Handlers(t domain.EventType) []Handler {
	return r.handlers[t]
}
