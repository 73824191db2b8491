package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/legifetch/internal/cache"
	"github.com/JakeFAU/legifetch/internal/retrieval"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewStoreWithPool(mock, "page_cache")
	require.NoError(t, err)
	return store, mock
}

func TestStorePutUpsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	entry := retrieval.CacheEntry{
		Envelope: retrieval.Envelope{StatusCode: 200, Body: []byte("x")},
		StoredAt: time.Unix(1700000000, 0).UTC(),
	}
	mock.ExpectExec("INSERT INTO page_cache").
		WithArgs("digest", pgxmock.AnyArg(), entry.StoredAt, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Put(context.Background(), "digest", entry, time.Hour))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetHitAndMiss(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	raw, err := cache.Encode(retrieval.CacheEntry{Envelope: retrieval.Envelope{Body: []byte("cached")}})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT entry FROM page_cache").
		WithArgs("hit").
		WillReturnRows(pgxmock.NewRows([]string{"entry"}).AddRow(raw))
	mock.ExpectQuery("SELECT entry FROM page_cache").
		WithArgs("miss").
		WillReturnRows(pgxmock.NewRows([]string{"entry"}))

	got, ok, err := store.Get(context.Background(), "hit")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cached", string(got.Envelope.Body))

	_, ok, err = store.Get(context.Background(), "miss")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDeleteAndSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS page_cache").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("DELETE FROM page_cache").
		WithArgs("digest").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, store.Delete(context.Background(), "digest"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewStoreWithPool(nil, "")
	assert.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewStoreWithPool(mock, "drop table;")
	assert.Error(t, err)
}
