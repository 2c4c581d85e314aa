package telegram

import (
	"context"
	"sync"

	"github.com/gotd/td/session"
)

// tokenStorage is an in-memory session.Storage whose contents double as the
// opaque session token handed to the session store.
type tokenStorage struct {
	mu   sync.Mutex
	data []byte
}

func newTokenStorage(data []byte) *tokenStorage {
	s := &tokenStorage{}
	if len(data) > 0 {
		s.data = append([]byte(nil), data...)
	}
	return s
}

func (s *tokenStorage) LoadSession(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return nil, session.ErrNotFound
	}
	return append([]byte(nil), s.data...), nil
}

func (s *tokenStorage) StoreSession(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}

func (s *tokenStorage) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}
