package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/engine-broker/internal/model"
)

func testEngine(id model.EngineID, selector string) *model.Engine {
	return &model.Engine{
		ID:               id,
		Name:             "Test Engine",
		UserID:           "user1",
		MaxThreads:       8,
		MaxHash:          512,
		ShallowDepth:     25,
		DeepDepth:        99,
		ClientSecretHash: model.ClientSecret("c").Hash(),
		ProviderSelector: selector,
	}
}

func TestMemoryRegistryFind(t *testing.T) {
	r := NewMemoryRegistry()
	r.Put(testEngine("e1", "sel"))

	engine, err := r.Find(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, model.EngineID("e1"), engine.ID)

	_, err = r.Find(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRegistryFindBySelector(t *testing.T) {
	r := NewMemoryRegistry()
	r.Put(testEngine("e1", "sel"))
	r.Put(testEngine("e2", "sel"))
	r.Put(testEngine("e3", "other"))

	engines, err := r.FindBySelector(context.Background(), "sel")
	require.NoError(t, err)
	assert.Len(t, engines, 2)

	engines, err = r.FindBySelector(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, engines)
}

// countingRegistry counts calls through to the inner registry.
type countingRegistry struct {
	inner Registry
	finds atomic.Int64
	sels  atomic.Int64
	err   error
}

func (c *countingRegistry) Find(ctx context.Context, id model.EngineID) (*model.Engine, error) {
	c.finds.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.Find(ctx, id)
}

func (c *countingRegistry) FindBySelector(ctx context.Context, selector string) ([]*model.Engine, error) {
	c.sels.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.FindBySelector(ctx, selector)
}

func TestCachedRegistryFind(t *testing.T) {
	mem := NewMemoryRegistry()
	mem.Put(testEngine("e1", "sel"))
	counting := &countingRegistry{inner: mem}
	cached := NewCachedRegistry(counting, time.Minute)
	defer cached.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		engine, err := cached.Find(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, model.EngineID("e1"), engine.ID)
	}
	assert.Equal(t, int64(1), counting.finds.Load())
}

func TestCachedRegistryDoesNotCacheErrors(t *testing.T) {
	mem := NewMemoryRegistry()
	counting := &countingRegistry{inner: mem}
	cached := NewCachedRegistry(counting, time.Minute)
	defer cached.Close()

	ctx := context.Background()
	_, err := cached.Find(ctx, "e1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = cached.Find(ctx, "e1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int64(2), counting.finds.Load())
}

func TestCachedRegistryCachesEmptySelector(t *testing.T) {
	mem := NewMemoryRegistry()
	counting := &countingRegistry{inner: mem}
	cached := NewCachedRegistry(counting, time.Minute)
	defer cached.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		engines, err := cached.FindBySelector(ctx, "sel")
		require.NoError(t, err)
		assert.Empty(t, engines)
	}
	assert.Equal(t, int64(1), counting.sels.Load())
}

func TestCachedRegistryExpiry(t *testing.T) {
	mem := NewMemoryRegistry()
	mem.Put(testEngine("e1", "sel"))
	counting := &countingRegistry{inner: mem}
	cached := NewCachedRegistry(counting, 10*time.Millisecond)
	defer cached.Close()

	ctx := context.Background()
	_, err := cached.Find(ctx, "e1")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	_, err = cached.Find(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counting.finds.Load())
}

func TestCachedRegistryPropagatesStoreFailure(t *testing.T) {
	counting := &countingRegistry{inner: NewMemoryRegistry(), err: errors.New("store down")}
	cached := NewCachedRegistry(counting, time.Minute)
	defer cached.Close()

	_, err := cached.Find(context.Background(), "e1")
	assert.EqualError(t, err, "store down")
}

func TestCachedRegistryCopiesResults(t *testing.T) {
	mem := NewMemoryRegistry()
	mem.Put(testEngine("e1", "sel"))
	cached := NewCachedRegistry(mem, time.Minute)
	defer cached.Close()

	ctx := context.Background()
	first, err := cached.Find(ctx, "e1")
	require.NoError(t, err)
	first.MaxThreads = 9999

	second, err := cached.Find(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 8, second.MaxThreads)
}
