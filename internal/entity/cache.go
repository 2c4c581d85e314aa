// Package entity provides the bounded read-through cache for resolved
// contact, user, and channel records.
package entity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/loomchat/loom/internal/bridge"
)

// Cache is a read-through store mapping opaque provider ids to resolved
// entities. One Cache is owned per provider adapter instance. Entries are
// eventually consistent: staleness is acceptable, absence triggers an
// upstream fetch. Concurrent lookups for the same missing id share a single
// in-flight fetch.
type Cache struct {
	logger   *slog.Logger
	fetcher  bridge.EntityFetcher
	capacity int

	mu      sync.Mutex
	entries map[string]bridge.Entity
	ring    []string
	next    int

	group singleflight.Group
}

// New creates a Cache over the given upstream fetcher. Capacity bounds the
// number of cached entries; the oldest key is evicted on overflow.
func New(log *slog.Logger, fetcher bridge.EntityFetcher, capacity int) *Cache {
	if log == nil {
		log = slog.Default()
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		logger:   log.With(slog.String("component", "entity_cache")),
		fetcher:  fetcher,
		capacity: capacity,
		entries:  map[string]bridge.Entity{},
		ring:     make([]string, capacity),
	}
}

// Get returns the cached entity or fetches it upstream on miss.
func (c *Cache) Get(ctx context.Context, id string) (bridge.Entity, error) {
	c.mu.Lock()
	if ent, ok := c.entries[id]; ok {
		c.mu.Unlock()
		return ent, nil
	}
	c.mu.Unlock()
	return c.fetch(ctx, id)
}

// Refresh bypasses the cache and replaces the entry with a fresh upstream fetch.
func (c *Cache) Refresh(ctx context.Context, id string) (bridge.Entity, error) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
	return c.fetch(ctx, id)
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) fetch(ctx context.Context, id string) (bridge.Entity, error) {
	if c.fetcher == nil {
		return bridge.Entity{}, bridge.ErrEntityNotResolved
	}
	v, err, _ := c.group.Do(id, func() (any, error) {
		ent, err := c.fetcher.FetchEntity(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetch entity %s: %w", id, err)
		}
		c.store(id, ent)
		return ent, nil
	})
	if err != nil {
		return bridge.Entity{}, err
	}
	return v.(bridge.Entity), nil
}

func (c *Cache) store(id string, ent bridge.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[id]; !exists {
		if evicted := c.ring[c.next]; evicted != "" {
			delete(c.entries, evicted)
		}
		c.ring[c.next] = id
		c.next = (c.next + 1) % c.capacity
	}
	c.entries[id] = ent
}
