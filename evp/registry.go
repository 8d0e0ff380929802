package evp

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Handler reacts to a deserialized event. Handlers reached through the relay
// may see the same event more than once and must be idempotent.
type Handler interface {
	Handle(ctx context.Context, id uuid.UUID, e Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, id uuid.UUID, e Event) error

func (f HandlerFunc) Handle(ctx context.Context, id uuid.UUID, e Event) error {
	return f(ctx, id, e)
}

// HandlerFactory builds a fresh handler for a single dispatch.
type HandlerFactory func() Handler

// HandlerResolver maps an event type to the handlers that must receive it.
type HandlerResolver interface {
	Resolve(eventType string) []Handler
}

// Registry is the default HandlerResolver. Handlers are registered at startup
// and every Resolve call builds new instances from the registered factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string][]HandlerFactory
}

var _ HandlerResolver = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{factories: map[string][]HandlerFactory{}}
}

// Register adds a shared handler instance for the event type.
func (r *Registry) Register(eventType string, h Handler) error {
	if h == nil {
		return ErrHandlerRequired
	}
	return r.RegisterFactory(eventType, func() Handler { return h })
}

// RegisterFactory adds a handler factory for the event type. The factory is
// invoked once per dispatched event.
func (r *Registry) RegisterFactory(eventType string, f HandlerFactory) error {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return ErrEventTypeRequired
	}
	if f == nil {
		return ErrHandlerRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[eventType] = append(r.factories[eventType], f)
	return nil
}

// Resolve returns new handler instances for the event type (zero or more).
func (r *Registry) Resolve(eventType string) []Handler {
	r.mu.RLock()
	factories := r.factories[eventType]
	r.mu.RUnlock()

	handlers := make([]Handler, 0, len(factories))
	for _, f := range factories {
		if h := f(); h != nil {
			handlers = append(handlers, h)
		}
	}
	return handlers
}
