// Package database implements the backends the connection monitor probes: the
// hosted Supabase REST and auth APIs, and a direct Postgres connection.
package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/giftflare/service_layer/internal/connection"
	"github.com/giftflare/service_layer/supabase/client"
)

// SupabaseConfig holds the hosted backend settings.
type SupabaseConfig struct {
	URL     string
	AnonKey string
	// AccessToken is an optional user token. Without one the session check
	// uses the auth health endpoint and the anonymous key.
	AccessToken string
	Schema      string
	HTTPClient  *http.Client
}

// SupabaseBackend probes a Supabase project over HTTP.
type SupabaseBackend struct {
	client      *client.Client
	accessToken string
}

var _ connection.Backend = (*SupabaseBackend)(nil)

// NewSupabaseBackend creates a backend for the configured project.
func NewSupabaseBackend(cfg SupabaseConfig) (*SupabaseBackend, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: secureTransport(),
		}
	}

	c, err := client.New(client.Config{
		URL:        cfg.URL,
		APIKey:     cfg.AnonKey,
		Schema:     cfg.Schema,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("supabase backend: %w", err)
	}

	return &SupabaseBackend{client: c, accessToken: cfg.AccessToken}, nil
}

// GetSession checks the auth plane.
func (b *SupabaseBackend) GetSession(ctx context.Context) (*connection.Session, error) {
	s, err := b.client.Auth().GetSession(ctx, b.accessToken)
	if err != nil {
		return nil, err
	}
	out := &connection.Session{ExpiresAt: s.ExpiresAt}
	if s.User != nil {
		out.UserID = s.User.ID
	}
	return out, nil
}

// Count asks for the exact row count of table without fetching row data. A
// missing relation wraps connection.ErrSchemaMissing.
func (b *SupabaseBackend) Count(ctx context.Context, table string) (int64, error) {
	resp, err := b.client.From(table).CountOnly("exact").Execute(ctx)
	if err != nil {
		return 0, err
	}
	if err := resp.Error(); err != nil {
		if client.IsRelationMissing(err) {
			return 0, fmt.Errorf("%w: table %s: %w", connection.ErrSchemaMissing, table, err)
		}
		return 0, err
	}

	total := resp.Total()
	if total < 0 {
		total = 0
	}
	return total, nil
}

// secureTransport clones the default transport with TLS 1.2 as the floor.
func secureTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	cloned := base.Clone()
	if cloned.TLSClientConfig != nil {
		cloned.TLSClientConfig = cloned.TLSClientConfig.Clone()
		if cloned.TLSClientConfig.MinVersion < tls.VersionTLS12 {
			cloned.TLSClientConfig.MinVersion = tls.VersionTLS12
		}
	} else {
		cloned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return cloned
}
