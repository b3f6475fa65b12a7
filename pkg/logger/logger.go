// Package logger provides the structured logger shared by every component.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a logrus logger bound to a component name.
type Logger struct {
	*logrus.Entry
}

// Config controls logger construction.
type Config struct {
	// Level is a logrus level name (debug, info, warn, error). Defaults to info.
	Level string
	// Format is "json" or "text". Defaults to json.
	Format string
	// Output defaults to stderr.
	Output io.Writer
}

// New creates a logger for the named component.
func New(name string, cfg Config) *Logger {
	base := logrus.New()

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	base.SetOutput(out)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		base.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	return &Logger{Entry: base.WithField("component", name)}
}

// NewDefault creates a logger using LOG_LEVEL and LOG_FORMAT from the environment.
func NewDefault(name string) *Logger {
	return New(name, Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	})
}

// NewDiscard returns a logger that writes nothing. Useful in tests.
func NewDiscard(name string) *Logger {
	return New(name, Config{Output: io.Discard})
}

// Named returns a child logger for a sub-component.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Entry: l.Entry.WithField("component", name)}
}
