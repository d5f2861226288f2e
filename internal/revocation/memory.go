package revocation

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: map[string]time.Time{},
		now:     time.Now,
	}
}

func (s *MemoryStore) Revoke(_ context.Context, token string, expiresAt time.Time) error {
	if token == "" || expiresAt.IsZero() {
		return nil
	}
	if !expiresAt.After(s.now()) {
		return nil
	}

	s.mu.Lock()
	s.entries[token] = expiresAt
	s.mu.Unlock()

	return nil
}

func (s *MemoryStore) IsRevoked(_ context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	s.mu.RLock()
	expiresAt, exists := s.entries[token]
	s.mu.RUnlock()
	if !exists {
		return false, nil
	}

	now := s.now()
	if expiresAt.After(now) {
		return true, nil
	}

	// Re-check under the write lock: a concurrent Revoke may have extended it.
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.entries[token]
	if !exists {
		return false, nil
	}
	if current.After(now) {
		return true, nil
	}
	delete(s.entries, token)

	return false, nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, expiresAt := range s.entries {
		if !expiresAt.After(now) {
			delete(s.entries, token)
			removed++
		}
	}

	return removed, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
