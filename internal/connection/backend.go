package connection

import (
	"context"
	"time"
)

// Backend is the slice of the hosted backend the monitor probes.
type Backend interface {
	// GetSession checks the authentication plane.
	GetSession(ctx context.Context) (*Session, error)
	// Count runs a minimal count-only read (limit 1) against table. Errors
	// wrapping ErrSchemaMissing are treated as fatal-fast.
	Count(ctx context.Context, table string) (int64, error)
}

// Session is what the auth plane reported. An empty UserID means anonymous.
type Session struct {
	UserID    string
	ExpiresAt time.Time
}
