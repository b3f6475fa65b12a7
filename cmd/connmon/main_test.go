package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giftflare/service_layer/internal/config"
	"github.com/giftflare/service_layer/internal/database"
)

func TestNewBackend(t *testing.T) {
	t.Run("supabase", func(t *testing.T) {
		backend, closeFn, err := newBackend(&config.Config{
			Backend:         config.BackendSupabase,
			SupabaseURL:     "https://example.supabase.co",
			SupabaseAnonKey: "anon",
		})
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &database.SupabaseBackend{}, backend)
	})

	t.Run("postgres", func(t *testing.T) {
		backend, closeFn, err := newBackend(&config.Config{
			Backend:     config.BackendPostgres,
			DatabaseURL: "postgres://localhost:5432/giftflare?sslmode=disable",
		})
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &database.PostgresBackend{}, backend)
	})

	t.Run("invalid supabase url", func(t *testing.T) {
		_, _, err := newBackend(&config.Config{
			Backend:         config.BackendSupabase,
			SupabaseURL:     "not a url",
			SupabaseAnonKey: "anon",
		})
		assert.Error(t, err)
	})
}
