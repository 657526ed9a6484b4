package crm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nexus-fundraising/nexus/domain/records"
)

// Factory builds an adapter for one account.
type Factory func(creds Credentials, opts Options) (Adapter, error)

// Registry maps provider sources to adapter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[records.Source]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[records.Source]Factory)}
}

// Register adds a factory, replacing any previous one for the source.
func (r *Registry) Register(source records.Source, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[source] = f
}

// Has reports whether source has a registered adapter.
func (r *Registry) Has(source records.Source) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[source]
	return ok
}

// New builds an adapter for source.
func (r *Registry) New(source records.Source, creds Credentials, opts Options) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, source)
	}
	return f(creds, opts)
}

// Sources lists registered providers in name order.
func (r *Registry) Sources() []records.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]records.Source, 0, len(r.factories))
	for s := range r.factories {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
