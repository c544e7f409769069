// Package vectorstore holds the vector stores behind vector query engines.
// Ships: embedded (chromem-go, in-process), pgvector (user-provided PostgreSQL).
// A query engine picks its store through its "store" config key.
package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agentoven/conductor/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// DefaultStore is used when an engine does not name a store.
const DefaultStore = "embedded"

// Registry holds named vector stores. Thread-safe.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]contracts.VectorStore
}

// NewRegistry creates an empty vector store registry.
func NewRegistry() *Registry {
	return &Registry{
		stores: make(map[string]contracts.VectorStore),
	}
}

// Register adds a store under the given name. Overwrites if exists.
func (r *Registry) Register(name string, store contracts.VectorStore) {
	r.mu.Lock()
	r.stores[name] = store
	r.mu.Unlock()
	log.Info().Str("name", name).Str("kind", store.Kind()).Msg("Vector store registered")
}

// Get returns the store by name; an empty name means DefaultStore.
func (r *Registry) Get(name string) (contracts.VectorStore, error) {
	if name == "" {
		name = DefaultStore
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[name]
	if !ok {
		return nil, fmt.Errorf("vector store not found: %s", name)
	}
	return s, nil
}

// List returns all registered store names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthCheckAll pings every registered store and returns errors keyed by name.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	snapshot := make(map[string]contracts.VectorStore, len(r.stores))
	for k, v := range r.stores {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(snapshot))
	for name, s := range snapshot {
		results[name] = s.HealthCheck(ctx)
	}
	return results
}
