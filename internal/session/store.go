// Package session owns the per-provider authentication lifecycle: the auth
// state machine, persisted session tokens, and silent restore on startup.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/loomchat/loom/internal/bridge"
)

// Store persists one opaque session token per provider on local disk.
// Writes go through a temp file and rename so a crash never leaves a
// truncated token. Single-writer per provider (the Manager); reads are safe
// from any goroutine.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore creates the token directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("session store dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(provider bridge.ProviderID) string {
	return filepath.Join(s.dir, provider.String()+".session")
}

// Load returns the persisted token for the provider, or nil when absent.
func (s *Store) Load(provider bridge.ProviderID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(provider))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session token: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// Save atomically replaces the persisted token.
func (s *Store) Save(provider bridge.ProviderID, token []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := s.path(provider)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, token, 0o600); err != nil {
		return fmt.Errorf("write session token: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace session token: %w", err)
	}
	return nil
}

// Delete removes the persisted token. Missing tokens are not an error.
func (s *Store) Delete(provider bridge.ProviderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(provider)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session token: %w", err)
	}
	return nil
}

// Archive moves a rejected token aside as <provider>.session.expired so a
// failed restore can be inspected without blocking re-authentication.
func (s *Store) Archive(provider bridge.ProviderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := s.path(provider)
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := os.Rename(target, target+".expired"); err != nil {
		return fmt.Errorf("archive session token: %w", err)
	}
	return nil
}
