package metric

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps metric names to providers.
type Registry interface {
	Get(name string) (Provider, error)
	Register(provider Provider)
	// List returns every provider ordered by name.
	List() []Provider
	Names() []string
}

// NewRegistry creates a registry with all built-in providers.
func NewRegistry() Registry {
	r := NewEmptyRegistry()

	r.Register(NewPrecisionProvider())
	r.Register(NewRecallProvider())
	r.Register(NewF1Provider())
	r.Register(NewAccuracyProvider())
	r.Register(NewLCSProvider())

	return r
}

// NewEmptyRegistry creates a registry without providers.
func NewEmptyRegistry() Registry {
	return &registry{
		providers: make(map[string]Provider, 5),
	}
}

type registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// Ensure interface compliance.
var _ Registry = (*registry)(nil)

// Get returns the provider registered under name.
func (r *registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown metric provider: %s", name)
	}

	return p, nil
}

// Register adds a provider, replacing any previous one with the same name.
func (r *registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[provider.Name()] = provider
}

func (r *registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}

	sort.Slice(providers, func(i, j int) bool {
		return providers[i].Name() < providers[j].Name()
	})

	return providers
}

func (r *registry) Names() []string {
	providers := r.List()

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}

	return names
}
