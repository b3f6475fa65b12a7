// Package httpapi exposes the connection monitor over HTTP and WebSocket.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/giftflare/service_layer/internal/connection"
	"github.com/giftflare/service_layer/internal/metrics"
	"github.com/giftflare/service_layer/internal/middleware"
	"github.com/giftflare/service_layer/pkg/logger"
)

// Monitor is the slice of the connection monitor the API serves.
type Monitor interface {
	connection.StatusReader
	Reconnect() connection.State
	HealthCheck(ctx context.Context) connection.HealthResult
	Reconcile(result connection.HealthResult) connection.State
}

// Options configures the handler.
type Options struct {
	AllowedOrigins []string
	// ActionRate and ActionBurst bound reconnect and health-check calls per
	// client. Defaults: 1 per second, burst 5.
	ActionRate  float64
	ActionBurst int
	// PingInterval is the WebSocket heartbeat. Defaults to 30s.
	PingInterval time.Duration
	Logger       *logger.Logger
}

// handler bundles HTTP endpoints for the connection monitor.
type handler struct {
	monitor      Monitor
	log          *logger.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

// healthResponse is the health-check body. State is set only when the result
// was reconciled into the monitor.
type healthResponse struct {
	connection.HealthResult
	State *connection.State `json:"state,omitempty"`
}

// NewHandler returns the router for the connection API wrapped in CORS and
// HTTP metrics. The returned limiter should have StartCleanup called by the
// owner of the server lifetime.
func NewHandler(monitor Monitor, opts Options) (http.Handler, *middleware.RateLimiter) {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	if opts.ActionRate <= 0 {
		opts.ActionRate = 1
	}
	if opts.ActionBurst <= 0 {
		opts.ActionBurst = 5
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}

	cors := middleware.NewCORSMiddleware(opts.AllowedOrigins)
	limiter := middleware.NewRateLimiter(opts.ActionRate, opts.ActionBurst, log.Named("ratelimit"))
	tracing := middleware.NewTracingMiddleware(log.Named("http"))

	h := &handler{
		monitor:      monitor,
		log:          log,
		pingInterval: opts.PingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cors),
		},
	}

	router := mux.NewRouter()
	router.Use(tracing.Handler)

	router.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	router.HandleFunc("/readyz", h.readyz).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/connection").Subrouter()
	api.HandleFunc("/status", h.status).Methods(http.MethodGet)
	api.HandleFunc("/stream", h.stream).Methods(http.MethodGet)
	api.Handle("/reconnect", limiter.Handler(http.HandlerFunc(h.reconnect))).Methods(http.MethodPost)
	api.Handle("/health-check", limiter.Handler(http.HandlerFunc(h.healthCheck))).Methods(http.MethodPost)

	return metrics.InstrumentHandler(cors.Handler(router)), limiter
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Snapshot())
}

func (h *handler) reconnect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, h.monitor.Reconnect())
}

func (h *handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	reconcile := false
	if raw := r.URL.Query().Get("reconcile"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid reconcile value %q", raw))
			return
		}
		reconcile = v
	}

	resp := healthResponse{HealthResult: h.monitor.HealthCheck(r.Context())}
	if reconcile {
		state := h.monitor.Reconcile(resp.HealthResult)
		resp.State = &state
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	phase := h.monitor.Status()
	if phase != connection.Connected {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "phase": phase.String()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "phase": phase.String()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
