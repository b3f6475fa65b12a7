package connection

import (
	"time"

	"github.com/cenkalti/backoff"
)

// retryKind names the two scheduled retry tasks.
type retryKind uint8

const (
	retryNone retryKind = iota
	retryFast
	retrySlow
)

func (k retryKind) String() string {
	switch k {
	case retryFast:
		return "fast"
	case retrySlow:
		return "slow"
	default:
		return "none"
	}
}

type stopper interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) stopper

func realAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// scheduler owns the fast and slow retry timers. At most one is armed at a
// time: arm always stops the pending task first. It is not safe for
// concurrent use; the monitor serializes access under its mutex.
type scheduler struct {
	after afterFunc

	fast      backoff.BackOff
	fastFloor time.Duration
	slow      backoff.BackOff
	slowFloor time.Duration

	kind  retryKind
	timer stopper
	delay time.Duration
	seq   uint64
}

func newScheduler(cfg Config) *scheduler {
	var fast backoff.BackOff = backoff.NewConstantBackOff(cfg.FastRetryDelay)
	if cfg.FastRetryMultiplier > 1 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = cfg.FastRetryDelay
		exp.Multiplier = cfg.FastRetryMultiplier
		exp.RandomizationFactor = 0
		exp.MaxInterval = cfg.SlowRetryInterval
		exp.MaxElapsedTime = 0
		exp.Reset()
		fast = exp
	}

	return &scheduler{
		after:     realAfterFunc,
		fast:      fast,
		fastFloor: cfg.FastRetryDelay,
		slow:      backoff.NewConstantBackOff(cfg.SlowRetryInterval),
		slowFloor: cfg.SlowRetryInterval,
	}
}

// arm schedules kind after the next delay of its policy and returns the
// delay. fire receives the kind and the sequence number to claim with.
func (s *scheduler) arm(kind retryKind, fire func(retryKind, uint64)) time.Duration {
	policy, floor := s.fast, s.fastFloor
	if kind == retrySlow {
		policy, floor = s.slow, s.slowFloor
	}
	d := policy.NextBackOff()
	if d == backoff.Stop || d < 0 {
		d = floor
	}
	s.armAfter(kind, d, fire)
	return d
}

// armAfter schedules kind after an explicit delay.
func (s *scheduler) armAfter(kind retryKind, d time.Duration, fire func(retryKind, uint64)) {
	s.disarm()
	seq := s.seq
	s.kind = kind
	s.delay = d
	s.timer = s.after(d, func() { fire(kind, seq) })
}

// disarm stops whichever task is pending. Callbacks already in flight are
// invalidated by the sequence bump.
func (s *scheduler) disarm() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = nil
	s.kind = retryNone
	s.delay = 0
	s.seq++
}

// claim reports whether a firing callback is still the armed task, and
// clears it if so.
func (s *scheduler) claim(kind retryKind, seq uint64) bool {
	if s.kind != kind || s.seq != seq {
		return false
	}
	s.timer = nil
	s.kind = retryNone
	s.delay = 0
	s.seq++
	return true
}

// resetFast restarts the fast policy; called when a new burst begins.
func (s *scheduler) resetFast() {
	s.fast.Reset()
}

func (s *scheduler) pending() (retryKind, time.Duration) {
	return s.kind, s.delay
}
