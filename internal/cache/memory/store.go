// Package memory keeps cache entries in process memory.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/legifetch/internal/retrieval"
)

type item struct {
	entry     retrieval.CacheEntry
	expiresAt time.Time
}

// Store is a map-backed cache.Store.
type Store struct {
	mu    sync.RWMutex
	items map[string]item
	now   func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{items: make(map[string]item), now: time.Now}
}

// Get implements cache.Store.
func (s *Store) Get(_ context.Context, key string) (retrieval.CacheEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[key]
	if !ok {
		return retrieval.CacheEntry{}, false, nil
	}
	if !it.expiresAt.IsZero() && s.now().After(it.expiresAt) {
		return retrieval.CacheEntry{}, false, nil
	}
	entry := it.entry
	entry.Envelope.Body = append([]byte(nil), entry.Envelope.Body...)
	return entry, true, nil
}

// Put implements cache.Store.
func (s *Store) Put(_ context.Context, key string, entry retrieval.CacheEntry, ttl time.Duration) error {
	it := item{entry: entry}
	it.entry.Envelope.Body = append([]byte(nil), entry.Envelope.Body...)
	if ttl > 0 {
		it.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.items[key] = it
	s.mu.Unlock()
	return nil
}

// Delete implements cache.Store.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of held entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Close implements cache.Store.
func (s *Store) Close() error {
	return nil
}
