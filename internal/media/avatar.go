package media

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/loomchat/loom/internal/bridge"
)

// AvatarCache persists avatar blobs on disk keyed by provider and entity id,
// surviving restarts. It is a non-critical cache: every entry can be
// re-fetched from the provider.
type AvatarCache struct {
	mu  sync.Mutex
	dir string
}

// NewAvatarCache creates the cache directory if needed.
func NewAvatarCache(dir string) (*AvatarCache, error) {
	if dir == "" {
		return nil, fmt.Errorf("avatar cache dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create avatar cache dir: %w", err)
	}
	return &AvatarCache{dir: dir}, nil
}

func (c *AvatarCache) path(provider bridge.ProviderID, id string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, id)
	return filepath.Join(c.dir, provider.String()+"_"+safe+".avatar")
}

// Get returns the cached avatar bytes and sniffed mimetype, or ok=false.
func (c *AvatarCache) Get(provider bridge.ProviderID, id string) ([]byte, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := os.ReadFile(c.path(provider, id))
	if err != nil || len(data) == 0 {
		return nil, "", false
	}
	return data, http.DetectContentType(data), true
}

// Put atomically stores an avatar blob.
func (c *AvatarCache) Put(provider bridge.ProviderID, id string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	target := c.path(provider, id)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write avatar: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace avatar: %w", err)
	}
	return nil
}
