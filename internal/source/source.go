package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/katerpii/issue-agent/internal/domain"
)

// Adapter captures a single search backend (Google, Reddit, GitHub, etc.).
// Crawl may return partial results together with a non-nil error; callers
// decide what to keep based on the error class.
type Adapter interface {
	Name() string
	Crawl(ctx context.Context, query domain.Query) ([]domain.RawResult, error)
	Supports(rawURL string) bool
}

// Registry keeps a mapping from source names to their adapters. Adapters
// may be registered while queries are already being dispatched.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register adds or replaces an adapter.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.adapters == nil {
		r.adapters = map[string]Adapter{}
	}
	r.adapters[adapter.Name()] = adapter
}

// Resolve returns an adapter by name or ErrUnknownSource if it is absent.
func (r *Registry) Resolve(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if adapter, ok := r.adapters[name]; ok {
		return adapter, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownSource, name)
}

// Names lists the registered sources in alphabetical order.
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
