// Package config loads process configuration from the environment, an
// optional .env file and an optional YAML file tuning the connection monitor.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/giftflare/service_layer/internal/connection"
)

// Backend selects the connection.Backend implementation.
type Backend string

const (
	BackendSupabase Backend = "supabase"
	BackendPostgres Backend = "postgres"
)

// DefaultListenAddr is used when CONNMON_LISTEN_ADDR is unset.
const DefaultListenAddr = ":8080"

// Config holds the process configuration.
type Config struct {
	Backend Backend

	SupabaseURL         string
	SupabaseAnonKey     string
	SupabaseAccessToken string
	SupabaseSchema      string

	DatabaseURL string

	ListenAddr     string
	AllowedOrigins []string
	LogLevel       string

	Monitor connection.Config
}

// tuningFile mirrors the YAML tuning file. Pointer fields distinguish an
// absent key from a zero value.
type tuningFile struct {
	MaxAttempts         *int           `yaml:"max_attempts"`
	FastRetryDelay      *time.Duration `yaml:"fast_retry_delay"`
	FastRetryMultiplier *float64       `yaml:"fast_retry_multiplier"`
	SlowRetryInterval   *time.Duration `yaml:"slow_retry_interval"`
	StartupDelay        *time.Duration `yaml:"startup_delay"`
	ProbeTimeout        *time.Duration `yaml:"probe_timeout"`
	ProbeTable          *string        `yaml:"probe_table"`
	SweepTables         *[]string      `yaml:"sweep_tables"`
}

// Load reads envFile (ignored when missing), then the environment, then the
// tuning file at tuningPath (skipped when empty), and validates the result.
func Load(envFile, tuningPath string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg := FromEnv()

	if tuningPath != "" {
		monitor, err := LoadTuningFromPath(tuningPath, cfg.Monitor)
		if err != nil {
			return nil, err
		}
		cfg.Monitor = monitor
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables. The storefront's
// VITE_-prefixed names are accepted as fallbacks.
func FromEnv() *Config {
	backend := Backend(strings.ToLower(strings.TrimSpace(os.Getenv("CONNMON_BACKEND"))))
	if backend == "" {
		backend = BackendSupabase
	}

	listen := strings.TrimSpace(os.Getenv("CONNMON_LISTEN_ADDR"))
	if listen == "" {
		listen = DefaultListenAddr
	}

	return &Config{
		Backend:             backend,
		SupabaseURL:         firstEnv("SUPABASE_URL", "VITE_SUPABASE_URL"),
		SupabaseAnonKey:     firstEnv("SUPABASE_ANON_KEY", "VITE_SUPABASE_ANON_KEY"),
		SupabaseAccessToken: firstEnv("SUPABASE_ACCESS_TOKEN"),
		SupabaseSchema:      firstEnv("SUPABASE_SCHEMA"),
		DatabaseURL:         firstEnv("DATABASE_URL"),
		ListenAddr:          listen,
		AllowedOrigins:      splitAndTrimCSV(os.Getenv("CONNMON_ALLOWED_ORIGINS")),
		LogLevel:            firstEnv("LOG_LEVEL"),
		Monitor:             connection.DefaultConfig(),
	}
}

// LoadTuningFromPath overlays the YAML tuning file onto base.
func LoadTuningFromPath(path string, base connection.Config) (connection.Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return base, fmt.Errorf("failed to read tuning config: %w", err)
	}

	var file tuningFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return base, fmt.Errorf("failed to parse tuning config: %w", err)
	}

	return file.apply(base), nil
}

func (f tuningFile) apply(c connection.Config) connection.Config {
	if f.MaxAttempts != nil {
		c.MaxAttempts = *f.MaxAttempts
	}
	if f.FastRetryDelay != nil {
		c.FastRetryDelay = *f.FastRetryDelay
	}
	if f.FastRetryMultiplier != nil {
		c.FastRetryMultiplier = *f.FastRetryMultiplier
	}
	if f.SlowRetryInterval != nil {
		c.SlowRetryInterval = *f.SlowRetryInterval
	}
	if f.StartupDelay != nil {
		c.StartupDelay = *f.StartupDelay
	}
	if f.ProbeTimeout != nil {
		c.ProbeTimeout = *f.ProbeTimeout
	}
	if f.ProbeTable != nil {
		c.ProbeTable = strings.TrimSpace(*f.ProbeTable)
	}
	if f.SweepTables != nil {
		tables := make([]string, 0, len(*f.SweepTables))
		for _, t := range *f.SweepTables {
			if t = strings.TrimSpace(t); t != "" {
				tables = append(tables, t)
			}
		}
		c.SweepTables = tables
	}
	return c
}

// Validate checks that the selected backend has its credentials and that the
// tuning values are usable.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSupabase:
		if c.SupabaseURL == "" {
			return fmt.Errorf("SUPABASE_URL (or VITE_SUPABASE_URL) is required")
		}
		if c.SupabaseAnonKey == "" {
			return fmt.Errorf("SUPABASE_ANON_KEY (or VITE_SUPABASE_ANON_KEY) is required")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("CONNMON_BACKEND must be %q or %q, got %q", BackendSupabase, BackendPostgres, c.Backend)
	}

	m := c.Monitor
	if m.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if m.FastRetryDelay <= 0 {
		return fmt.Errorf("fast_retry_delay must be positive")
	}
	if m.FastRetryMultiplier < 0 {
		return fmt.Errorf("fast_retry_multiplier must not be negative")
	}
	if m.SlowRetryInterval <= 0 {
		return fmt.Errorf("slow_retry_interval must be positive")
	}
	if m.StartupDelay < 0 {
		return fmt.Errorf("startup_delay must not be negative")
	}
	if m.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive")
	}
	if m.ProbeTable == "" {
		return fmt.Errorf("probe_table is required")
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func splitAndTrimCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
