// Package cache decides which responses are stored and serves them back to the retrieval service.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/legifetch/internal/metrics"
	"github.com/JakeFAU/legifetch/internal/retrieval"
)

// Store persists encoded cache entries under opaque keys.
type Store interface {
	Get(ctx context.Context, key string) (retrieval.CacheEntry, bool, error)
	Put(ctx context.Context, key string, entry retrieval.CacheEntry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// KeyFunc maps a normalized identity key to a store key.
type KeyFunc func(identityKey string) string

// AcceptFunc reports whether an envelope may be cached.
type AcceptFunc func(env retrieval.Envelope) bool

// AcceptOKOrUnknown caches responses with status 200 or an unknown status.
func AcceptOKOrUnknown(env retrieval.Envelope) bool {
	return env.StatusCode == http.StatusOK || env.StatusCode == retrieval.StatusUnknown
}

// Config controls a Layer.
type Config struct {
	// TTL bounds the age of served entries. Zero keeps entries forever.
	TTL    time.Duration
	Accept AcceptFunc
	Key    KeyFunc
}

// Layer sits in front of a backend and owns every cache mutation.
type Layer struct {
	store  Store
	cfg    Config
	clock  retrieval.Clock
	logger *zap.Logger
	// mu serializes mutations so the last write or invalidation wins.
	mu sync.Mutex
}

// New builds a Layer over store.
func New(store Store, cfg Config, clock retrieval.Clock, logger *zap.Logger) (*Layer, error) {
	if store == nil {
		return nil, errors.New("cache store is required")
	}
	if clock == nil {
		return nil, errors.New("cache clock is required")
	}
	if cfg.Accept == nil {
		cfg.Accept = AcceptOKOrUnknown
	}
	if cfg.Key == nil {
		cfg.Key = func(k string) string { return k }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Layer{store: store, cfg: cfg, clock: clock, logger: logger.Named("cache")}, nil
}

// Lookup returns the stored entry for id. Stale entries are deleted and reported as misses.
func (l *Layer) Lookup(ctx context.Context, id retrieval.Identity) (retrieval.CacheEntry, bool, error) {
	key := l.cfg.Key(id.Key())
	entry, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return retrieval.CacheEntry{}, false, fmt.Errorf("cache lookup: %w", err)
	}
	if !ok {
		metrics.ObserveCache("miss")
		return retrieval.CacheEntry{}, false, nil
	}
	if l.cfg.TTL > 0 && l.clock.Now().Sub(entry.StoredAt) > l.cfg.TTL {
		metrics.ObserveCache("stale")
		if err := l.dropStale(ctx, key, entry.StoredAt); err != nil {
			l.logger.Warn("Failed to drop stale entry", zap.String("url", id.Key()), zap.Error(err))
		}
		return retrieval.CacheEntry{}, false, nil
	}
	metrics.ObserveCache("hit")
	entry.Envelope.FromCache = true
	return entry, true, nil
}

// dropStale deletes key only if it still holds the entry stored at storedAt.
func (l *Layer) dropStale(ctx context.Context, key string, storedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	current, ok, err := l.store.Get(ctx, key)
	if err != nil || !ok || !current.StoredAt.Equal(storedAt) {
		return err
	}
	return l.store.Delete(ctx, key)
}

// Store persists env for id when the acceptance policy allows it.
func (l *Layer) Store(ctx context.Context, id retrieval.Identity, env retrieval.Envelope) (bool, error) {
	if !l.cfg.Accept(env) {
		metrics.ObserveCache("reject")
		return false, nil
	}
	env.FromCache = false
	entry := retrieval.CacheEntry{Identity: id, Envelope: env, StoredAt: l.clock.Now()}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Put(ctx, l.cfg.Key(id.Key()), entry, l.cfg.TTL); err != nil {
		return false, fmt.Errorf("cache store: %w", err)
	}
	metrics.ObserveCache("store")
	return true, nil
}

// Invalidate removes any entry for id.
func (l *Layer) Invalidate(ctx context.Context, id retrieval.Identity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Delete(ctx, l.cfg.Key(id.Key())); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	metrics.ObserveCache("invalidate")
	l.logger.Debug("Invalidated entry", zap.String("url", id.Key()))
	return nil
}

// Close releases the underlying store.
func (l *Layer) Close() error {
	return l.store.Close()
}

// Wrap returns a cache-through backend around next.
func (l *Layer) Wrap(next retrieval.Backend) retrieval.Backend {
	return retrieval.BackendFunc(func(ctx context.Context, request retrieval.Request) (retrieval.Envelope, error) {
		if !request.Refresh {
			entry, ok, err := l.Lookup(ctx, request.Identity)
			switch {
			case err != nil:
				l.logger.Warn("Cache lookup failed, fetching", zap.String("url", request.Identity.Key()), zap.Error(err))
			case ok:
				return entry.Envelope, nil
			}
		}
		env, err := next.Fetch(ctx, request)
		if err != nil {
			return retrieval.Envelope{}, err
		}
		if _, err := l.Store(ctx, request.Identity, env); err != nil {
			l.logger.Warn("Cache store failed", zap.String("url", request.Identity.Key()), zap.Error(err))
		}
		return env, nil
	})
}

// Encode serialises an entry for byte-oriented stores.
func Encode(entry retrieval.CacheEntry) ([]byte, error) {
	b, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return b, nil
}

// Decode parses an entry produced by Encode.
func Decode(b []byte) (retrieval.CacheEntry, error) {
	var entry retrieval.CacheEntry
	if err := json.Unmarshal(b, &entry); err != nil {
		return retrieval.CacheEntry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry, nil
}
