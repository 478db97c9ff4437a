package registry

import (
	"context"
	"sync"
	"time"

	"github.com/AltairaLabs/engine-broker/internal/model"
)

// CachedRegistry is a read-through cache over a Registry with TTL-based
// expiration. Registrations change rarely but are read on every analyse and
// on every provider poll; a short TTL bounds both the load on the document
// store and the staleness a caller can observe.
type CachedRegistry struct {
	inner Registry

	mu          sync.RWMutex
	byID        map[model.EngineID]*cachedEntry
	bySelector  map[string]*cachedSelectorEntry
	ttl         time.Duration
	done        chan struct{}
	stopCleanup sync.Once
}

type cachedEntry struct {
	engine    *model.Engine
	expiresAt time.Time
}

type cachedSelectorEntry struct {
	engines   []*model.Engine
	expiresAt time.Time
}

// NewCachedRegistry wraps a registry with a TTL cache and starts a
// background cleanup goroutine that removes expired entries.
func NewCachedRegistry(inner Registry, ttl time.Duration) *CachedRegistry {
	c := &CachedRegistry{
		inner:      inner,
		byID:       make(map[model.EngineID]*cachedEntry),
		bySelector: make(map[string]*cachedSelectorEntry),
		ttl:        ttl,
		done:       make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Find implements Registry. Only successful lookups are cached; a not-found
// or store failure always goes back to the inner registry next time.
func (c *CachedRegistry) Find(ctx context.Context, id model.EngineID) (*model.Engine, error) {
	now := time.Now()
	c.mu.RLock()
	entry, ok := c.byID[id]
	c.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		copied := *entry.engine
		return &copied, nil
	}

	engine, err := c.inner.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.byID[id] = &cachedEntry{engine: engine, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	copied := *engine
	return &copied, nil
}

// FindBySelector implements Registry. Empty results are cached too: a
// provider polling with a bad secret would otherwise hit the store on every
// poll.
func (c *CachedRegistry) FindBySelector(ctx context.Context, selector string) ([]*model.Engine, error) {
	now := time.Now()
	c.mu.RLock()
	entry, ok := c.bySelector[selector]
	c.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return copyEngines(entry.engines), nil
	}

	engines, err := c.inner.FindBySelector(ctx, selector)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.bySelector[selector] = &cachedSelectorEntry{engines: engines, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	return copyEngines(engines), nil
}

// Close stops the cleanup goroutine.
func (c *CachedRegistry) Close() {
	c.stopCleanup.Do(func() { close(c.done) })
}

func (c *CachedRegistry) cleanupLoop() {
	interval := c.ttl
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired(time.Now())
		case <-c.done:
			return
		}
	}
}

func (c *CachedRegistry) removeExpired(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, entry := range c.byID {
		if now.After(entry.expiresAt) {
			delete(c.byID, id)
		}
	}
	for selector, entry := range c.bySelector {
		if now.After(entry.expiresAt) {
			delete(c.bySelector, selector)
		}
	}
}

func copyEngines(engines []*model.Engine) []*model.Engine {
	out := make([]*model.Engine, len(engines))
	for i, e := range engines {
		copied := *e
		out[i] = &copied
	}
	return out
}
