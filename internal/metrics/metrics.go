// Package metrics exposes Prometheus collectors for the connection monitor
// and its HTTP surface.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var phases = []string{"connecting", "connected", "failed"}

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "connmon",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connmon",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "connmon",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	connectionPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "connmon",
			Subsystem: "connection",
			Name:      "phase",
			Help:      "Current connection phase (1 for the active phase, 0 otherwise).",
		},
		[]string{"phase"},
	)

	connectionAttempts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "connmon",
			Subsystem: "connection",
			Name:      "attempts",
			Help:      "Consecutive failed attempts in the current burst.",
		},
	)

	probeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connmon",
			Subsystem: "probe",
			Name:      "total",
			Help:      "Total number of completed probe attempts by outcome.",
		},
		[]string{"outcome"},
	)

	probeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "connmon",
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "Duration of probe attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 11), // 10ms to ~10s
		},
	)

	tableAccessible = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "connmon",
			Subsystem: "sweep",
			Name:      "table_accessible",
			Help:      "Whether a swept table was readable on the last sweep.",
		},
		[]string{"table"},
	)

	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connmon",
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Total number of one-shot health checks by result.",
		},
		[]string{"healthy"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		connectionPhase,
		connectionAttempts,
		probeTotal,
		probeDuration,
		tableAccessible,
		healthChecks,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// SetConnectionState records the current phase and attempt count.
func SetConnectionState(phase string, attempts int) {
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		connectionPhase.WithLabelValues(p).Set(v)
	}
	connectionAttempts.Set(float64(attempts))
}

// RecordProbe records a completed probe attempt.
func RecordProbe(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	probeTotal.WithLabelValues(outcome).Inc()
	probeDuration.Observe(duration.Seconds())
}

// SetTableAccessible records a sweep result for one table.
func SetTableAccessible(table string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	tableAccessible.WithLabelValues(table).Set(v)
}

// RecordHealthCheck records a one-shot health check.
func RecordHealthCheck(healthy bool) {
	healthChecks.WithLabelValues(strconv.FormatBool(healthy)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets WebSocket upgrades through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// routePaths are the only values the path label takes; anything else is
// counted under otherPath so unknown URLs cannot grow the label set.
var routePaths = map[string]struct{}{
	"/healthz":                     {},
	"/readyz":                      {},
	"/metrics":                     {},
	"/api/connection/status":       {},
	"/api/connection/stream":       {},
	"/api/connection/reconnect":    {},
	"/api/connection/health-check": {},
}

const otherPath = "/other"

func canonicalPath(raw string) string {
	p := "/" + strings.Trim(raw, "/")
	if _, ok := routePaths[p]; ok {
		return p
	}
	return otherPath
}
