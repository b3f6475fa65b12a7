package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/giftflare/service_layer/internal/connection"
)

const pgUndefinedTable pq.ErrorCode = "42P01"

// PostgresBackend probes the database directly, bypassing the REST layer.
type PostgresBackend struct {
	db *sqlx.DB
}

var _ connection.Backend = (*PostgresBackend)(nil)

// OpenPostgres opens a small connection pool for dsn. The pool is lazy; no
// connection is made until the first probe.
func OpenPostgres(dsn string) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres backend: DATABASE_URL is required")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres backend: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewPostgresBackend(db), nil
}

// NewPostgresBackend wraps an existing handle.
func NewPostgresBackend(db *sqlx.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// GetSession reports the role the connection authenticates as.
func (b *PostgresBackend) GetSession(ctx context.Context) (*connection.Session, error) {
	var role string
	if err := b.db.GetContext(ctx, &role, "SELECT current_user"); err != nil {
		return nil, classifyPQ("", err)
	}
	return &connection.Session{UserID: role}, nil
}

// Count runs a count over at most one row of table.
func (b *PostgresBackend) Count(ctx context.Context, table string) (int64, error) {
	query := fmt.Sprintf("SELECT count(*) FROM (SELECT 1 FROM %s LIMIT 1) t", quoteTable(table))

	var n int64
	if err := b.db.GetContext(ctx, &n, query); err != nil {
		return 0, classifyPQ(table, err)
	}
	return n, nil
}

// Close releases the pool.
func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

// pqCodedError exposes the SQLSTATE of a driver error.
type pqCodedError struct {
	code string
	err  error
}

func (e *pqCodedError) Error() string     { return e.err.Error() }
func (e *pqCodedError) Unwrap() error     { return e.err }
func (e *pqCodedError) ErrorCode() string { return e.code }

func classifyPQ(table string, err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	coded := &pqCodedError{code: string(pqErr.Code), err: err}
	if pqErr.Code == pgUndefinedTable {
		return fmt.Errorf("%w: table %s: %w", connection.ErrSchemaMissing, table, coded)
	}
	return coded
}

// quoteTable quotes a table name, honoring an optional schema prefix.
func quoteTable(table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}
