package hooks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrAlreadyRegistered is returned when a hook name is registered twice
	ErrAlreadyRegistered = errors.New("hook already registered")

	// ErrUnknownHook is returned when no handler is registered under a name
	ErrUnknownHook = errors.New("unknown hook")
)

// Handler applies one scheduled payload and returns a summary for the job
// ledger. The summary is informational only.
type Handler func(ctx context.Context, payload []byte) (map[string]any, error)

// Registry maps hook names to handlers. Registration happens once at boot;
// lookups are safe from any goroutine.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. A name can be registered only once.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("hook name is required")
	}
	if h == nil {
		return fmt.Errorf("hook %q: handler is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.handlers[name] = h

	return nil
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHook, name)
	}
	return h, nil
}

// Names lists registered hooks in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
