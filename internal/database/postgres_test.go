package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giftflare/service_layer/internal/connection"
)

func newMockBackend(t *testing.T) (*PostgresBackend, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresBackend(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresBackend_Count(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM (SELECT 1 FROM "profiles" LIMIT 1) t`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))

	n, err := backend.Count(context.Background(), "profiles")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_CountQuotesSchema(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "store"."hero_videos" LIMIT 1`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))

	n, err := backend.Count(context.Background(), "store.hero_videos")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_UndefinedTableIsFatal(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectQuery("SELECT count").
		WillReturnError(&pq.Error{Code: "42P01", Message: `relation "themes" does not exist`})

	_, err := backend.Count(context.Background(), "themes")
	require.Error(t, err)
	assert.True(t, errors.Is(err, connection.ErrSchemaMissing))
	assert.True(t, connection.IsFatal(err))

	var coded interface{ ErrorCode() string }
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, "42P01", coded.ErrorCode())
}

func TestPostgresBackend_OtherErrorsAreTransient(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectQuery("SELECT count").
		WillReturnError(&pq.Error{Code: "57P01", Message: "terminating connection due to administrator command"})

	_, err := backend.Count(context.Background(), "profiles")
	require.Error(t, err)
	assert.False(t, connection.IsFatal(err))

	var coded interface{ ErrorCode() string }
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, "57P01", coded.ErrorCode())

	mock.ExpectQuery("SELECT count").WillReturnError(errors.New("dial tcp: connection refused"))
	_, err = backend.Count(context.Background(), "profiles")
	require.Error(t, err)
	assert.False(t, connection.IsFatal(err))
}

func TestPostgresBackend_GetSession(t *testing.T) {
	backend, mock := newMockBackend(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT current_user")).
		WillReturnRows(sqlmock.NewRows([]string{"current_user"}).AddRow("anon"))

	session, err := backend.GetSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "anon", session.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenPostgres_RequiresDSN(t *testing.T) {
	_, err := OpenPostgres("")
	assert.Error(t, err)

	backend, err := OpenPostgres("postgres://localhost:5432/giftflare?sslmode=disable")
	require.NoError(t, err)
	assert.NoError(t, backend.Close())
}
