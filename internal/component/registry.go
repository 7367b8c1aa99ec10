package component

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps component names to implementations.
type Registry struct {
	mu         sync.RWMutex
	components map[string]Component
}

// NewRegistry creates an empty component registry.
func NewRegistry() *Registry {
	return &Registry{
		components: make(map[string]Component),
	}
}

// Register adds a component under the given name. Returns ErrExists if the
// name is already taken.
func (r *Registry) Register(name string, c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.components[name]; ok {
		return fmt.Errorf("%w: %q", ErrExists, name)
	}
	r.components[name] = c
	return nil
}

// Unregister removes the component registered under name, if any.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.components, name)
}

// Lookup returns the component registered under name. Returns an error
// wrapping ErrNotFound if there is none.
func (r *Registry) Lookup(name string) (Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.components[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return c, nil
}

// Names returns the registered component names, sorted for a stable API
// response.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
