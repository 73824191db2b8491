// Package postgres stores cache entries in a Postgres table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/legifetch/internal/cache"
	"github.com/JakeFAU/legifetch/internal/retrieval"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for cache rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type queryExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store is a Postgres-backed cache.Store. Rows are keyed by the identity digest.
type Store struct {
	pool  queryExecCloser
	table string
}

// NewStore connects to Postgres and ensures the cache table exists.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("cache.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool queryExecCloser, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "page_cache"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// EnsureSchema creates the cache table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	cache_key  TEXT PRIMARY KEY,
	entry      JSONB NOT NULL,
	stored_at  TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create cache table: %w", err)
	}
	return nil
}

// Get implements cache.Store.
func (s *Store) Get(ctx context.Context, key string) (retrieval.CacheEntry, bool, error) {
	query := fmt.Sprintf(
		`SELECT entry FROM %s WHERE cache_key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		s.table,
	)
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, key).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return retrieval.CacheEntry{}, false, nil
		}
		return retrieval.CacheEntry{}, false, fmt.Errorf("select cache entry: %w", err)
	}
	entry, err := cache.Decode(raw)
	if err != nil {
		return retrieval.CacheEntry{}, false, err
	}
	return entry, true, nil
}

// Put implements cache.Store.
func (s *Store) Put(ctx context.Context, key string, entry retrieval.CacheEntry, ttl time.Duration) error {
	raw, err := cache.Encode(entry)
	if err != nil {
		return err
	}
	var expiresAt *time.Time
	if ttl > 0 {
		t := entry.StoredAt.Add(ttl)
		expiresAt = &t
	}
	query := fmt.Sprintf(`
INSERT INTO %s (cache_key, entry, stored_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (cache_key) DO UPDATE
SET entry = EXCLUDED.entry, stored_at = EXCLUDED.stored_at, expires_at = EXCLUDED.expires_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, key, raw, entry.StoredAt, expiresAt); err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Delete implements cache.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE cache_key = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
