// Package leveldb persists cache entries in an on-disk goleveldb database.
//
// goleveldb holds an exclusive file lock while a database is open, so the
// store opens the database for each operation and releases it right after.
// Several legifetch processes can then share one cache directory.
package leveldb

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/JakeFAU/legifetch/internal/cache"
	"github.com/JakeFAU/legifetch/internal/retrieval"
)

const entryPrefix = "e:"

var syncWrite = &opt.WriteOptions{Sync: true}

// ErrLocked reports that another process kept the database locked past the retry window.
var ErrLocked = errors.New("leveldb cache is locked by another process")

// Option tunes a Store.
type Option func(*options)

type options struct {
	retries    int
	backoff    time.Duration
	backoffMax time.Duration
}

// WithLockRetry sets how often and how long an operation waits for a locked database.
func WithLockRetry(retries int, backoff, backoffMax time.Duration) Option {
	return func(o *options) {
		o.retries = retries
		o.backoff = backoff
		o.backoffMax = backoffMax
	}
}

// Store is a goleveldb-backed cache.Store. Expiry is left to the cache layer.
type Store struct {
	path  string
	retry retrypolicy.RetryPolicy[any]
}

// Open checks that the database at path can be created and opened.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("leveldb cache path is required")
	}
	o := options{retries: 10, backoff: 20 * time.Millisecond, backoffMax: 500 * time.Millisecond}
	for _, apply := range opts {
		apply(&o)
	}
	s := &Store{
		path: path,
		retry: retrypolicy.NewBuilder[any]().
			WithBackoff(o.backoff, o.backoffMax).
			WithMaxRetries(o.retries).
			HandleIf(func(_ any, err error) bool {
				return errors.Is(err, ErrLocked)
			}).
			ReturnLastFailure().
			Build(),
	}
	if err := s.with(context.Background(), func(*leveldb.DB) error { return nil }); err != nil {
		return nil, err
	}
	return s, nil
}

// with opens the database, runs fn and closes it again, retrying while the lock is held elsewhere.
func (s *Store) with(ctx context.Context, fn func(db *leveldb.DB) error) error {
	return failsafe.With(s.retry).WithContext(ctx).Run(func() error {
		db, err := leveldb.OpenFile(s.path, nil)
		if err != nil {
			if isLocked(err) {
				return fmt.Errorf("%w: %s: %w", ErrLocked, s.path, err)
			}
			return fmt.Errorf("open leveldb cache: %w", err)
		}
		err = fn(db)
		if cerr := db.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close leveldb cache: %w", cerr)
		}
		return err
	})
}

func isLocked(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

// Get implements cache.Store.
func (s *Store) Get(ctx context.Context, key string) (retrieval.CacheEntry, bool, error) {
	var b []byte
	err := s.with(ctx, func(db *leveldb.DB) error {
		var err error
		b, err = db.Get([]byte(entryPrefix+key), nil)
		return err
	})
	if errors.Is(err, leveldb.ErrNotFound) {
		return retrieval.CacheEntry{}, false, nil
	}
	if err != nil {
		return retrieval.CacheEntry{}, false, fmt.Errorf("leveldb get: %w", err)
	}
	entry, err := cache.Decode(b)
	if err != nil {
		return retrieval.CacheEntry{}, false, err
	}
	return entry, true, nil
}

// Put implements cache.Store.
func (s *Store) Put(ctx context.Context, key string, entry retrieval.CacheEntry, _ time.Duration) error {
	b, err := cache.Encode(entry)
	if err != nil {
		return err
	}
	err = s.with(ctx, func(db *leveldb.DB) error {
		return db.Put([]byte(entryPrefix+key), b, syncWrite)
	})
	if err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

// Delete implements cache.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.with(ctx, func(db *leveldb.DB) error {
		return db.Delete([]byte(entryPrefix+key), syncWrite)
	})
	if err != nil {
		return fmt.Errorf("leveldb delete: %w", err)
	}
	return nil
}

// Close implements cache.Store. The database is never held open between operations.
func (s *Store) Close() error {
	return nil
}
