package entity

import (
	"context"
	"log/slog"

	"github.com/loomchat/loom/internal/bridge"
)

// Service holds one Cache per provider that exposes an EntityFetcher.
type Service struct {
	caches map[bridge.ProviderID]*Cache
}

// NewService builds the per-provider caches from the registry.
func NewService(log *slog.Logger, registry *bridge.Registry, capacity int) *Service {
	caches := map[bridge.ProviderID]*Cache{}
	for _, id := range registry.IDs() {
		fetcher, ok := registry.GetEntityFetcher(id)
		if !ok {
			continue
		}
		caches[id] = New(log, fetcher, capacity)
	}
	return &Service{caches: caches}
}

// Get resolves an entity through the provider's cache.
func (s *Service) Get(ctx context.Context, provider bridge.ProviderID, id string) (bridge.Entity, error) {
	cache, ok := s.caches[provider]
	if !ok {
		return bridge.Entity{}, bridge.ErrEntityNotResolved
	}
	return cache.Get(ctx, id)
}

// Refresh bypasses the provider's cache for one entity.
func (s *Service) Refresh(ctx context.Context, provider bridge.ProviderID, id string) (bridge.Entity, error) {
	cache, ok := s.caches[provider]
	if !ok {
		return bridge.Entity{}, bridge.ErrEntityNotResolved
	}
	return cache.Refresh(ctx, id)
}
