package connection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/giftflare/service_layer/pkg/logger"
)

var errTransient = errors.New("fetch failed: connection refused")

func schemaMissing(table string) error {
	return fmt.Errorf("%w: relation \"public.%s\" does not exist", ErrSchemaMissing, table)
}

// manualClock fires timers only when advanced.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock *manualClock
	at    time.Time
	d     time.Duration
	f     func()
	done  bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.done
	t.done = true
	return wasActive
}

// Advance moves time forward and runs every timer that became due, in order.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.done && !t.at.After(c.now) {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// Active returns the configured delays of timers that are armed.
func (c *manualClock) Active() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.done {
			out = append(out, t.d)
		}
	}
	return out
}

// fakeBackend plays back scripted session outcomes and fixed per-table errors.
type fakeBackend struct {
	mu        sync.Mutex
	outcomes  []error
	fallback  error
	countErrs map[string]error
	gate      chan struct{}
	panicMsg  string

	sessions  int
	counts    map[string]int
	active    int
	maxActive int
}

func newFakeBackend(outcomes ...error) *fakeBackend {
	return &fakeBackend{
		outcomes:  outcomes,
		countErrs: make(map[string]error),
		counts:    make(map[string]int),
	}
}

func (b *fakeBackend) GetSession(ctx context.Context) (*Session, error) {
	b.mu.Lock()
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	gate := b.gate
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.active--
		b.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	b.sessions++
	if b.panicMsg != "" {
		msg := b.panicMsg
		b.panicMsg = ""
		b.mu.Unlock()
		panic(msg)
	}
	err := b.fallback
	if len(b.outcomes) > 0 {
		err = b.outcomes[0]
		b.outcomes = b.outcomes[1:]
	}
	b.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &Session{}, nil
}

func (b *fakeBackend) Count(ctx context.Context, table string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[table]++
	if err := b.countErrs[table]; err != nil {
		return 0, err
	}
	return 1, nil
}

func (b *fakeBackend) setCountErr(table string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.countErrs[table] = err
}

func (b *fakeBackend) setFallback(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fallback = err
}

func (b *fakeBackend) sessionCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions
}

func (b *fakeBackend) countCalls(table string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[table]
}

func (b *fakeBackend) activeCalls() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active, b.maxActive
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StartupDelay = 0
	cfg.SweepTables = []string{}
	return cfg
}

func newTestMonitor(t *testing.T, backend Backend, cfg Config) (*Monitor, *manualClock) {
	t.Helper()
	m := New(backend, cfg, logger.NewDiscard("connection-test"))
	clock := newManualClock()
	m.sched.after = clock.AfterFunc
	m.now = clock.Now
	t.Cleanup(m.Stop)
	return m, clock
}

// waitIdle blocks until no probe is in flight.
func waitIdle(t *testing.T, m *Monitor) {
	t.Helper()
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return !m.inFlight && !m.rerun
	}, 2*time.Second, time.Millisecond)
}

func waitPhase(t *testing.T, m *Monitor, want Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.Status() == want
	}, 2*time.Second, time.Millisecond, "phase never became %s", want)
}
