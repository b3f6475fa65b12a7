// Package connection tracks the health of the link to the backend data
// service. A Monitor probes the backend, retries in short bursts, falls back
// to slow polling once a burst is exhausted, and exposes its phase to the UI.
package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/giftflare/service_layer/internal/metrics"
	"github.com/giftflare/service_layer/pkg/logger"
	"github.com/giftflare/service_layer/supabase/client"
)

// State is a point-in-time view of the monitor.
type State struct {
	Phase         Phase           `json:"phase"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	LastCheckedAt time.Time       `json:"last_checked_at"`
	PendingRetry  string          `json:"pending_retry"`
	RetryIn       time.Duration   `json:"-"`
	LastError     *ErrorInfo      `json:"last_error,omitempty"`
	Tables        map[string]bool `json:"tables,omitempty"`
}

// HealthResult is the outcome of a one-shot health check.
type HealthResult struct {
	Healthy   bool       `json:"healthy"`
	Error     *ErrorInfo `json:"error,omitempty"`
	// CheckedAt is when the read was issued.
	CheckedAt time.Time  `json:"checked_at"`
}

// StatusReader is the read-only view handed to consumers that only observe.
type StatusReader interface {
	Status() Phase
	Snapshot() State
	Subscribe() (<-chan State, func())
}

// probe outcomes, also used as metric labels.
const (
	outcomeSuccess   = "success"
	outcomeTransient = "transient"
	outcomeFatal     = "fatal"
)

// Monitor owns the connection state. It is the only writer; every mutation
// happens under mu, and no backend call is made while mu is held.
type Monitor struct {
	backend Backend
	cfg     Config
	log     *logger.Logger
	now     func() time.Time

	mu            sync.Mutex
	machine       *fsm.FSM
	sched         *scheduler
	attempts      int
	lastCheckedAt time.Time
	// changedAt is when the state last moved. Health results issued
	// earlier are stale.
	changedAt     time.Time
	lastErr       *ErrorInfo
	tables        map[string]bool

	// epoch is bumped whenever an in-flight probe's result must be ignored.
	epoch    uint64
	inFlight bool
	rerun    bool

	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	subs    map[int]chan State
	nextSub int
}

var _ StatusReader = (*Monitor)(nil)

// New creates a monitor in the Connecting phase. Probing begins with Start.
func New(backend Backend, cfg Config, log *logger.Logger) *Monitor {
	if log == nil {
		log = logger.NewDefault("connection")
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	m := &Monitor{
		backend: backend,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		machine: newPhaseMachine(),
		sched:   newScheduler(cfg),
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[int]chan State),
	}
	metrics.SetConnectionState(Connecting.String(), 0)
	return m
}

// Start schedules the first probe after the startup delay. Cancelling ctx
// stops the monitor. Calling Start more than once has no effect, and the
// startup probe is skipped when Reconnect or Reconcile already ran.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started || m.stopped {
		return
	}
	m.started = true
	context.AfterFunc(ctx, m.Stop)

	if m.epoch > 0 || m.inFlight {
		return
	}

	if m.cfg.StartupDelay <= 0 {
		m.startProbeLocked()
		return
	}
	m.sched.armAfter(retryFast, m.cfg.StartupDelay, m.onTimer)
}

// Stop disarms all timers and waits for in-flight work to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.sched.disarm()
	m.cancel()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// Status returns the current phase.
func (m *Monitor) Status() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return currentPhase(m.machine)
}

// Snapshot returns the full current state.
func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe returns a channel that receives the current state immediately and
// again after every change. A slow subscriber misses intermediate states but
// the last value it receives is always the latest. The returned function
// unsubscribes.
func (m *Monitor) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 8)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		close(ch)
		return ch, func() {}
	}

	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.snapshotLocked()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

// Reconnect resets the attempt budget, moves to Connecting and starts a probe
// now. Any pending retry is cancelled. If a probe is already in flight its
// result is discarded and a single new probe starts once it resolves.
func (m *Monitor) Reconnect() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return m.snapshotLocked()
	}

	m.epoch++
	m.attempts = 0
	m.changedAt = m.now()
	m.sched.disarm()
	m.sched.resetFast()
	m.fireLocked(EventReconnect)
	m.log.WithField("phase", Connecting.String()).Info("reconnect requested")
	m.startProbeLocked()
	m.publishLocked()

	return m.snapshotLocked()
}

// HealthCheck performs a single read on the probe table. It does not change
// the phase or the attempt count; see Reconcile.
func (m *Monitor) HealthCheck(ctx context.Context) HealthResult {
	issuedAt := m.now()
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	if client.RequestIDFromContext(ctx) == "" {
		ctx = client.WithRequestID(ctx, client.GenerateRequestID())
	}

	err := m.safely(func() error {
		_, err := m.backend.Count(ctx, m.cfg.ProbeTable)
		return err
	})

	result := HealthResult{
		Healthy:   err == nil,
		Error:     describeError(err),
		CheckedAt: issuedAt,
	}
	metrics.RecordHealthCheck(result.Healthy)

	entry := m.log.WithField("table", m.cfg.ProbeTable).
		WithField("request_id", client.RequestIDFromContext(ctx))
	if err != nil {
		entry.WithError(err).Warn("health check failed")
	} else {
		entry.Debug("health check passed")
	}
	return result
}

// Reconcile applies a health-check result to the phase atomically. A healthy
// result moves to Connected; an unhealthy one moves Connecting or Connected to
// Failed and arms the slow retry. The attempt count is left untouched except
// on entry to Connected, where it resets. Results issued before the last
// state change are ignored.
func (m *Monitor) Reconcile(result HealthResult) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return m.snapshotLocked()
	}
	if !result.CheckedAt.IsZero() && result.CheckedAt.Before(m.changedAt) {
		m.log.WithField("checked_at", result.CheckedAt).
			WithField("changed_at", m.changedAt).
			Debug("ignored stale health result")
		return m.snapshotLocked()
	}
	m.changedAt = m.now()

	phase := currentPhase(m.machine)
	switch {
	case result.Healthy && phase != Connected:
		m.epoch++
		m.rerun = false
		m.enterConnectedLocked()
	case !result.Healthy && phase != Failed:
		m.epoch++
		m.rerun = false
		m.lastErr = result.Error
		m.enterFailedLocked()
	case !result.Healthy:
		m.lastErr = result.Error
		if kind, _ := m.sched.pending(); kind != retrySlow {
			m.sched.arm(retrySlow, m.onTimer)
		}
	}
	m.publishLocked()

	return m.snapshotLocked()
}

// startProbeLocked starts an attempt unless one is in flight, in which case
// it asks for a fresh one when the current attempt resolves.
func (m *Monitor) startProbeLocked() {
	if m.stopped {
		return
	}
	if m.inFlight {
		m.rerun = true
		return
	}
	m.inFlight = true
	m.wg.Add(1)
	go m.runProbe(m.epoch)
}

func (m *Monitor) runProbe(epoch uint64) {
	defer m.wg.Done()

	requestID := client.GenerateRequestID()
	ctx, cancel := context.WithTimeout(client.WithRequestID(m.ctx, requestID), m.cfg.ProbeTimeout)
	start := m.now()
	err := m.attempt(ctx)
	cancel()
	elapsed := m.now().Sub(start)

	m.mu.Lock()
	m.inFlight = false
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if epoch != m.epoch || m.rerun {
		rerun := m.rerun
		m.rerun = false
		if rerun {
			m.startProbeLocked()
		}
		m.mu.Unlock()
		m.log.WithField("request_id", requestID).Debug("discarded superseded probe result")
		return
	}

	m.lastCheckedAt = m.now()
	m.changedAt = m.lastCheckedAt
	attempt := m.attempts + 1
	outcome := m.recordAttemptLocked(err)
	entry := m.log.WithField("attempt", attempt).
		WithField("max_attempts", m.cfg.MaxAttempts).
		WithField("table", m.cfg.ProbeTable).
		WithField("phase", currentPhase(m.machine).String()).
		WithField("request_id", requestID).
		WithField("duration", elapsed.String())
	if kind, d := m.sched.pending(); kind != retryNone {
		entry = entry.WithField("retry", kind.String()).WithField("retry_in", d.String())
	}
	m.publishLocked()
	m.mu.Unlock()

	metrics.RecordProbe(outcome, elapsed)
	switch outcome {
	case outcomeSuccess:
		entry.Info("backend connected")
		m.sweep(epoch)
	case outcomeFatal:
		entry.WithError(err).Error("backend schema missing; run migrations")
	default:
		entry.WithError(err).Warn("backend probe failed")
	}
}

// attempt runs the session check then the data-plane read. Panics in the
// backend are reported as transient failures.
func (m *Monitor) attempt(ctx context.Context) error {
	return m.safely(func() error {
		if _, err := m.backend.GetSession(ctx); err != nil {
			return fmt.Errorf("session check: %w", err)
		}
		if _, err := m.backend.Count(ctx, m.cfg.ProbeTable); err != nil {
			return fmt.Errorf("read %s: %w", m.cfg.ProbeTable, err)
		}
		return nil
	})
}

func (m *Monitor) safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errBackendPanic, r)
		}
	}()
	return fn()
}

// recordAttemptLocked applies a completed attempt to the state.
func (m *Monitor) recordAttemptLocked(err error) string {
	attempts, v := judge(m.attempts, m.cfg.MaxAttempts, err)
	m.attempts = attempts

	switch v {
	case verdictConnected:
		m.enterConnectedLocked()
		return outcomeSuccess
	case verdictRetryFast:
		m.lastErr = describeError(err)
		m.sched.arm(retryFast, m.onTimer)
		return outcomeTransient
	default:
		m.lastErr = describeError(err)
		m.enterFailedLocked()
		if IsFatal(err) {
			return outcomeFatal
		}
		return outcomeTransient
	}
}

func (m *Monitor) enterConnectedLocked() {
	m.attempts = 0
	m.lastErr = nil
	m.sched.disarm()
	m.sched.resetFast()
	m.fireLocked(EventProbeSucceeded)
}

func (m *Monitor) enterFailedLocked() {
	m.fireLocked(EventProbeFailed)
	m.sched.arm(retrySlow, m.onTimer)
}

// onTimer is the callback for both retry tasks.
func (m *Monitor) onTimer(kind retryKind, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || !m.sched.claim(kind, seq) {
		return
	}

	switch kind {
	case retryFast:
		m.startProbeLocked()
	case retrySlow:
		if currentPhase(m.machine) != Failed {
			return
		}
		m.log.WithField("phase", Failed.String()).Info("slow retry: reconnecting")
		m.epoch++
		m.attempts = 0
		m.changedAt = m.now()
		m.sched.resetFast()
		m.fireLocked(EventSlowRetry)
		m.startProbeLocked()
		m.publishLocked()
	}
}

func (m *Monitor) fireLocked(event string) {
	if err := transition(m.machine, event); err != nil {
		m.log.WithError(err).Error("invalid phase transition")
	}
}

func (m *Monitor) snapshotLocked() State {
	kind, d := m.sched.pending()
	var tables map[string]bool
	if m.tables != nil {
		tables = make(map[string]bool, len(m.tables))
		for k, v := range m.tables {
			tables[k] = v
		}
	}
	var lastErr *ErrorInfo
	if m.lastErr != nil {
		cp := *m.lastErr
		lastErr = &cp
	}
	return State{
		Phase:         currentPhase(m.machine),
		Attempts:      m.attempts,
		MaxAttempts:   m.cfg.MaxAttempts,
		LastCheckedAt: m.lastCheckedAt,
		PendingRetry:  kind.String(),
		RetryIn:       d,
		LastError:     lastErr,
		Tables:        tables,
	}
}

func (m *Monitor) publishLocked() {
	snap := m.snapshotLocked()
	metrics.SetConnectionState(snap.Phase.String(), snap.Attempts)
	for _, ch := range m.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Full: drop the oldest so the newest is never lost. Every send
		// happens under mu, so the second send has room.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
