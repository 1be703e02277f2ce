// Package registry dispatches store adapters by handle or product URL.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/stockwatch/monitor-service/internal/adapters"
)

// Registry manages store adapter registration and retrieval.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]adapters.StoreAdapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]adapters.StoreAdapter),
	}
}

// Register registers an adapter under its store handle. Re-registering a
// handle replaces the previous adapter.
func (r *Registry) Register(adapter adapters.StoreAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Handle()] = adapter
}

// ResolveAdapter retrieves an adapter by store handle.
func (r *Registry) ResolveAdapter(storeHandle string) (adapters.StoreAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[storeHandle]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for store %q", storeHandle)
	}
	return adapter, nil
}

// ResolveAdapterFromURL finds the adapter whose declared domain prefixes
// match the given product URL.
func (r *Registry) ResolveAdapterFromURL(rawURL string) (adapters.StoreAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	normalized := normalizeURL(rawURL)
	for _, adapter := range r.adapters {
		for _, prefix := range adapter.DomainPrefixes() {
			if strings.HasPrefix(normalized, normalizeURL(prefix)) {
				return adapter, nil
			}
		}
	}
	return nil, fmt.Errorf("no adapter matches URL %q", rawURL)
}

// Handles returns all registered store handles.
func (r *Registry) Handles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]string, 0, len(r.adapters))
	for handle := range r.adapters {
		handles = append(handles, handle)
	}
	return handles
}

func normalizeURL(u string) string {
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	return strings.TrimPrefix(u, "www.")
}
