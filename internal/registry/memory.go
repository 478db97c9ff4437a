package registry

import (
	"context"
	"sync"

	"github.com/AltairaLabs/engine-broker/internal/model"
)

// MemoryRegistry is an in-memory Registry for tests and standalone runs.
type MemoryRegistry struct {
	mu      sync.RWMutex
	engines map[model.EngineID]*model.Engine
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		engines: make(map[model.EngineID]*model.Engine),
	}
}

// Put inserts or replaces a registration.
func (r *MemoryRegistry) Put(engine *model.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *engine
	r.engines[engine.ID] = &copied
}

// Delete removes a registration.
func (r *MemoryRegistry) Delete(id model.EngineID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, id)
}

// Find implements Registry.
func (r *MemoryRegistry) Find(_ context.Context, id model.EngineID) (*model.Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	engine, ok := r.engines[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *engine
	return &copied, nil
}

// FindBySelector implements Registry.
func (r *MemoryRegistry) FindBySelector(_ context.Context, selector string) ([]*model.Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var engines []*model.Engine
	for _, engine := range r.engines {
		if engine.ProviderSelector == selector {
			copied := *engine
			engines = append(engines, &copied)
		}
	}
	return engines, nil
}
