package connection

import "time"

// Defaults mirror the storefront's connection behavior.
const (
	DefaultMaxAttempts       = 3
	DefaultFastRetryDelay    = 2 * time.Second
	DefaultSlowRetryInterval = 60 * time.Second
	DefaultStartupDelay      = 500 * time.Millisecond
	DefaultProbeTimeout      = 10 * time.Second
	DefaultProbeTable        = "profiles"
)

// DefaultSweepTables are checked after every successful probe.
var DefaultSweepTables = []string{
	"products",
	"orders",
	"notifications",
	"hero_videos",
	"delivery_cities",
	"themes",
}

// Config tunes the monitor.
type Config struct {
	// MaxAttempts bounds the fast-retry burst before falling back to slow retry.
	MaxAttempts int
	// FastRetryDelay is the delay between attempts within a burst.
	FastRetryDelay time.Duration
	// FastRetryMultiplier > 1 grows the fast delay exponentially, capped at
	// SlowRetryInterval. Zero or one keeps it constant.
	FastRetryMultiplier float64
	// SlowRetryInterval is the delay before retrying from Failed.
	SlowRetryInterval time.Duration
	// StartupDelay defers the first probe after Start.
	StartupDelay time.Duration
	// ProbeTimeout bounds each attempt and each health check.
	ProbeTimeout time.Duration
	// ProbeTable is the table read by probes and health checks.
	ProbeTable string
	// SweepTables are checked after a successful probe; outcomes never gate phase.
	SweepTables []string
}

// DefaultConfig returns the storefront defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       DefaultMaxAttempts,
		FastRetryDelay:    DefaultFastRetryDelay,
		SlowRetryInterval: DefaultSlowRetryInterval,
		StartupDelay:      DefaultStartupDelay,
		ProbeTimeout:      DefaultProbeTimeout,
		ProbeTable:        DefaultProbeTable,
		SweepTables:       append([]string(nil), DefaultSweepTables...),
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.FastRetryDelay <= 0 {
		c.FastRetryDelay = DefaultFastRetryDelay
	}
	if c.SlowRetryInterval <= 0 {
		c.SlowRetryInterval = DefaultSlowRetryInterval
	}
	if c.StartupDelay < 0 {
		c.StartupDelay = 0
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.ProbeTable == "" {
		c.ProbeTable = DefaultProbeTable
	}
	if c.SweepTables == nil {
		c.SweepTables = append([]string(nil), DefaultSweepTables...)
	}
	return c
}
