// Package media resolves attachment bytes on demand, bounds what stays in
// memory, and implements the byte-range and filename semantics of the media
// streaming endpoint.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/loomchat/loom/internal/bridge"
)

// Resolver fetches message media through the provider adapters. Resolved
// blobs are kept in a bounded in-memory cache (oldest evicted) so repeated
// fetches of the same message avoid re-walking provider history; concurrent
// fetches of the same key share one upstream call. Avatars go through the
// disk cache instead.
type Resolver struct {
	logger   *slog.Logger
	registry *bridge.Registry
	avatars  *AvatarCache
	capacity int

	mu    sync.Mutex
	blobs map[string]bridge.MediaContent
	ring  []string
	next  int

	group singleflight.Group
}

// NewResolver creates a Resolver with the given blob cache capacity.
func NewResolver(log *slog.Logger, registry *bridge.Registry, avatars *AvatarCache, capacity int) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Resolver{
		logger:   log.With(slog.String("component", "media")),
		registry: registry,
		avatars:  avatars,
		capacity: capacity,
		blobs:    map[string]bridge.MediaContent{},
		ring:     make([]string, capacity),
	}
}

// Fetch returns the media content of a message, from cache or upstream.
// The returned content always has a usable mimetype and filename.
func (r *Resolver) Fetch(ctx context.Context, provider bridge.ProviderID, conversationID, messageID string) (bridge.MediaContent, error) {
	key := provider.String() + ":" + conversationID + ":" + messageID

	r.mu.Lock()
	if blob, ok := r.blobs[key]; ok {
		r.mu.Unlock()
		return blob, nil
	}
	r.mu.Unlock()

	fetcher, ok := r.registry.GetMediaFetcher(provider)
	if !ok {
		return bridge.MediaContent{}, bridge.ErrMediaNotFound
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		content, err := fetcher.FetchMedia(ctx, conversationID, messageID)
		if err != nil {
			return nil, bridge.WrapProvider(provider, "fetchMedia", err)
		}
		content.Mime = ResolveMime(content.Mime, content.Filename, content.Kind)
		if SanitizeFilename(content.Filename) == "" {
			content.Filename = fmt.Sprintf("file-%s%s", messageID, ExtensionForMime(content.Mime))
		}
		r.store(key, content)
		return content, nil
	})
	if err != nil {
		return bridge.MediaContent{}, err
	}
	return v.(bridge.MediaContent), nil
}

// Avatar returns avatar bytes and mimetype for an entity, reading the disk
// cache first unless refresh is set.
func (r *Resolver) Avatar(ctx context.Context, provider bridge.ProviderID, entityID string, refresh bool) ([]byte, string, error) {
	if r.avatars != nil && !refresh {
		if data, mimeType, ok := r.avatars.Get(provider, entityID); ok {
			return data, mimeType, nil
		}
	}

	fetcher, ok := r.registry.GetEntityFetcher(provider)
	if !ok {
		return nil, "", bridge.ErrEntityNotResolved
	}

	key := "avatar:" + provider.String() + ":" + entityID
	type avatar struct {
		data []byte
		mime string
	}
	v, err, _ := r.group.Do(key, func() (any, error) {
		data, mimeType, err := fetcher.FetchAvatar(ctx, entityID)
		if err != nil {
			return nil, bridge.WrapProvider(provider, "fetchAvatar", err)
		}
		if len(data) == 0 {
			return nil, bridge.ErrMediaNotFound
		}
		if r.avatars != nil {
			if err := r.avatars.Put(provider, entityID, data); err != nil {
				r.logger.Warn("avatar cache write failed",
					slog.String("provider", provider.String()), slog.Any("error", err))
			}
		}
		return avatar{data: data, mime: mimeType}, nil
	})
	if err != nil {
		return nil, "", err
	}
	av := v.(avatar)
	return av.data, av.mime, nil
}

func (r *Resolver) store(key string, content bridge.MediaContent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.blobs[key]; !exists {
		if evicted := r.ring[r.next]; evicted != "" {
			delete(r.blobs, evicted)
		}
		r.ring[r.next] = key
		r.next = (r.next + 1) % r.capacity
	}
	r.blobs[key] = content
}
