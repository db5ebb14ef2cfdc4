package engine

import (
	"sort"
	"sync"
)

// Registry maps device identities to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Add registers an adapter under its identity.
func (r *Registry) Add(a Adapter) {
	r.mu.Lock()
	r.adapters[a.ID()] = a
	r.mu.Unlock()
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// All returns every adapter ordered by identity.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Dispatch delivers attributes to the adapter registered under id.
// It reports whether the device is known.
func (r *Registry) Dispatch(id string, attrs []Attribute) bool {
	a, ok := r.Get(id)
	if !ok {
		return false
	}
	for _, attr := range attrs {
		a.Receive(attr)
	}
	return true
}

// Close closes every adapter.
func (r *Registry) Close() {
	for _, a := range r.All() {
		a.Close()
	}
}
