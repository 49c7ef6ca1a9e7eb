package capability

import (
	"fmt"
	"sync"
)

// Registry maps capability tags to their registered handlers.
// Handlers are registered once at startup and swapped only by
// re-registration.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Capability]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Capability]Handler)}
}

// Register binds a handler to a capability tag, replacing any previous
// binding for that tag.
func (r *Registry) Register(c Capability, h Handler) error {
	if !c.Valid() {
		return fmt.Errorf("unknown capability: %s", c)
	}
	if h == nil {
		return fmt.Errorf("nil handler for capability: %s", c)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[c] = h
	return nil
}

// Lookup returns the handler bound to a capability tag.
func (r *Registry) Lookup(c Capability) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[c]
	return h, ok
}

// Registered returns the tags that currently have a handler bound.
func (r *Registry) Registered() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]Capability, 0, len(r.handlers))
	for c := range r.handlers {
		tags = append(tags, c)
	}
	return tags
}
