package entity_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomchat/loom/internal/bridge"
	"github.com/loomchat/loom/internal/entity"
)

type countingFetcher struct {
	mu      sync.Mutex
	calls   atomic.Int64
	delay   time.Duration
	entries map[string]bridge.Entity
}

func (f *countingFetcher) FetchEntity(ctx context.Context, id string) (bridge.Entity, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if ent, ok := f.entries[id]; ok {
		return ent, nil
	}
	return bridge.Entity{}, bridge.ErrEntityNotResolved
}

func (f *countingFetcher) FetchAvatar(ctx context.Context, id string) ([]byte, string, error) {
	return nil, "", bridge.ErrEntityNotResolved
}

func TestCache_ReadThrough(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{entries: map[string]bridge.Entity{
		"u1": {ID: "u1", DisplayName: "Alice"},
	}}
	cache := entity.New(nil, fetcher, 8)

	ent, err := cache.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", ent.DisplayName)

	_, err = cache.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, fetcher.calls.Load(), "second lookup must hit the cache")
}

func TestCache_ConcurrentMissesShareOneFetch(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{
		delay:   20 * time.Millisecond,
		entries: map[string]bridge.Entity{"u1": {ID: "u1", DisplayName: "Alice"}},
	}
	cache := entity.New(nil, fetcher, 8)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ent, err := cache.Get(context.Background(), "u1")
			assert.NoError(t, err)
			assert.Equal(t, "u1", ent.ID)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, fetcher.calls.Load(), "%d concurrent misses must collapse to one fetch", n)
}

func TestCache_RefreshBypassesCache(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{entries: map[string]bridge.Entity{
		"u1": {ID: "u1", DisplayName: "Alice"},
	}}
	cache := entity.New(nil, fetcher, 8)

	_, err := cache.Get(context.Background(), "u1")
	require.NoError(t, err)

	fetcher.mu.Lock()
	fetcher.entries["u1"] = bridge.Entity{ID: "u1", DisplayName: "Alice Updated"}
	fetcher.mu.Unlock()

	ent, err := cache.Refresh(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice Updated", ent.DisplayName)
	assert.EqualValues(t, 2, fetcher.calls.Load())
}

func TestCache_BoundedEviction(t *testing.T) {
	t.Parallel()

	entries := map[string]bridge.Entity{}
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("u%d", i)
		entries[id] = bridge.Entity{ID: id}
	}
	fetcher := &countingFetcher{entries: entries}
	cache := entity.New(nil, fetcher, 4)

	for i := 0; i < 10; i++ {
		_, err := cache.Get(context.Background(), fmt.Sprintf("u%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 4, cache.Len(), "cache must stay within capacity")

	// u0 was evicted long ago, so this refetches
	before := fetcher.calls.Load()
	_, err := cache.Get(context.Background(), "u0")
	require.NoError(t, err)
	assert.EqualValues(t, before+1, fetcher.calls.Load())
}

func TestCache_MissError(t *testing.T) {
	t.Parallel()

	cache := entity.New(nil, &countingFetcher{entries: map[string]bridge.Entity{}}, 4)
	_, err := cache.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, bridge.ErrEntityNotResolved)
}
