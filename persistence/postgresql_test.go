package persistence

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStoreFromDB(db), mock
}

func TestPostgresStore_GetMissing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM kv_entries WHERE key = $1")).
		WithArgs("room:A").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, err := s.Get(context.Background(), "room:A")
	assert.True(t, errors.Is(err, ErrKeyNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM kv_entries")).
		WithArgs("room:A").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("blob")))

	got, err := s.Get(context.Background(), "room:A")
	require.NoError(t, err)
	assert.Equal(t, "blob", string(got))
}

func TestPostgresStore_SetUpserts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO kv_entries")).
		WithArgs("room:A", []byte("v"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SetWithTTL(context.Background(), "room:A", time.Hour, []byte("v")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListKeysEscapesPrefix(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT key FROM kv_entries")).
		WithArgs(`player\_index:%`).
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("player_index:p1"))

	keys, err := s.ListKeys(context.Background(), "player_index:")
	require.NoError(t, err)
	assert.Equal(t, []string{"player_index:p1"}, keys)
}

func TestPostgresStore_Sweep(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM kv_entries WHERE expires_at IS NOT NULL")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
