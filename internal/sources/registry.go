// Package sources maintains the registry of available scrape source
// adapters. Unknown or disabled sources fail cleanly at job validation
// instead of surfacing as runtime errors mid-scrape.
package sources

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dhruvfliptech/LeadGenAgent-sub003/internal/scrape"
)

// Registry maps source names to their adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]scrape.SourceAdapter
}

// NewRegistry builds a Registry from the provided adapters.
func NewRegistry(adapters ...scrape.SourceAdapter) *Registry {
	r := &Registry{adapters: make(map[string]scrape.SourceAdapter, len(adapters))}
	for _, adapter := range adapters {
		r.adapters[adapter.Name()] = adapter
	}
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(adapter scrape.SourceAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Name()] = adapter
}

// Resolve returns the adapter for the source name.
func (r *Registry) Resolve(name string) (scrape.SourceAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown source %q", scrape.ErrInvalidConfiguration, name)
	}
	return adapter, nil
}

// Validate checks that every requested source maps to a known adapter.
func (r *Registry) Validate(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: at least one source is required", scrape.ErrInvalidConfiguration)
	}
	for _, name := range names {
		if _, err := r.Resolve(name); err != nil {
			return err
		}
	}
	return nil
}

// Names lists the registered source names sorted for stable output.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
