package clientstate

import (
	"context"
	"sync"

	"github.com/openline-chat/openline/pkg/chatsync"
)

// MemoryStore is an in-memory Store for tests and for running without a
// state file. It mirrors the SQLite store's contract.
type MemoryStore struct {
	mu      sync.Mutex
	session *chatsync.Identity
	theme   string
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) SaveSession(_ context.Context, self chatsync.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := self
	s.session = &copied
	return nil
}

func (s *MemoryStore) LoadSession(_ context.Context) (chatsync.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return chatsync.Identity{}, false, nil
	}
	return *s.session, true, nil
}

func (s *MemoryStore) ClearSession(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return nil
}

func (s *MemoryStore) SaveTheme(_ context.Context, mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.theme = mode
	return nil
}

func (s *MemoryStore) LoadTheme(_ context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.theme, s.theme != "", nil
}
