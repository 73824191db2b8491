// Package redis stores cache entries in Redis so several machines can share them.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/legifetch/internal/cache"
	"github.com/JakeFAU/legifetch/internal/retrieval"
)

// DefaultPrefix namespaces keys written by the store.
const DefaultPrefix = "legifetch:cache:"

// Store is a Redis-backed cache.Store.
type Store struct {
	client goredis.UniversalClient
	prefix string
}

// NewStore wraps an existing client.
func NewStore(client goredis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, prefix string) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewStore(client, prefix), nil
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Get implements cache.Store.
func (s *Store) Get(ctx context.Context, key string) (retrieval.CacheEntry, bool, error) {
	b, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return retrieval.CacheEntry{}, false, nil
	}
	if err != nil {
		return retrieval.CacheEntry{}, false, fmt.Errorf("redis get: %w", err)
	}
	entry, err := cache.Decode(b)
	if err != nil {
		return retrieval.CacheEntry{}, false, err
	}
	return entry, true, nil
}

// Put implements cache.Store. A positive ttl is enforced by Redis.
func (s *Store) Put(ctx context.Context, key string, entry retrieval.CacheEntry, ttl time.Duration) error {
	b, err := cache.Encode(entry)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), b, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements cache.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close implements cache.Store.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
