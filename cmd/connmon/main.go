// Command connmon watches the storefront's backend connection and serves its
// status over HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/giftflare/service_layer/internal/config"
	"github.com/giftflare/service_layer/internal/connection"
	"github.com/giftflare/service_layer/internal/database"
	"github.com/giftflare/service_layer/internal/httpapi"
	"github.com/giftflare/service_layer/pkg/logger"
)

func main() {
	var (
		envFile    = flag.String("env", ".env", "Path to a .env file (ignored when missing)")
		configPath = flag.String("config", "", "Path to a YAML file tuning the connection monitor")
	)
	flag.Parse()

	if err := run(*envFile, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "connmon: %v\n", err)
		os.Exit(1)
	}
}

func run(envFile, configPath string) error {
	cfg, err := config.Load(envFile, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New("connmon", logger.Config{
		Level:  cfg.LogLevel,
		Format: os.Getenv("LOG_FORMAT"),
	})

	backend, closeBackend, err := newBackend(cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor := connection.New(backend, cfg.Monitor, log.Named("connection"))
	monitor.Start(ctx)
	defer monitor.Stop()

	handler, limiter := httpapi.NewHandler(monitor, httpapi.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         log.Named("httpapi"),
	})
	limiter.StartCleanup(ctx, time.Minute)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.ListenAddr).
			WithField("backend", string(cfg.Backend)).
			Info("connmon listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	monitor.Stop()

	log.Info("connmon stopped")
	return nil
}

func newBackend(cfg *config.Config) (connection.Backend, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pg, err := database.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { _ = pg.Close() }, nil
	default:
		sb, err := database.NewSupabaseBackend(database.SupabaseConfig{
			URL:         cfg.SupabaseURL,
			AnonKey:     cfg.SupabaseAnonKey,
			AccessToken: cfg.SupabaseAccessToken,
			Schema:      cfg.SupabaseSchema,
		})
		if err != nil {
			return nil, nil, err
		}
		return sb, func() {}, nil
	}
}
