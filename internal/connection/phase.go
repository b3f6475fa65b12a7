package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

// Phase is the three-valued connection status shown to the UI.
type Phase uint8

const (
	Connecting Phase = iota
	Connected
	Failed
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParsePhase converts the string form back into a Phase.
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "connecting":
		return Connecting, nil
	case "connected":
		return Connected, nil
	case "failed":
		return Failed, nil
	}
	return Connecting, fmt.Errorf("unknown phase %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(b []byte) error {
	parsed, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Phase machine events.
const (
	EventProbeSucceeded = "probe_succeeded"
	EventProbeFailed    = "probe_failed"
	EventSlowRetry      = "slow_retry"
	EventReconnect      = "reconnect"
)

// newPhaseMachine builds the transition table. Connected<->Failed via
// probe_succeeded/probe_failed from Failed/Connected is only used by
// health-check reconciliation; the probe loop itself only runs in Connecting.
func newPhaseMachine() *fsm.FSM {
	connecting, connected, failed := Connecting.String(), Connected.String(), Failed.String()

	return fsm.NewFSM(
		connecting,
		fsm.Events{
			{Name: EventProbeSucceeded, Src: []string{connecting, failed}, Dst: connected},
			{Name: EventProbeFailed, Src: []string{connecting, connected}, Dst: failed},
			{Name: EventSlowRetry, Src: []string{failed}, Dst: connecting},
			{Name: EventReconnect, Src: []string{connecting, connected, failed}, Dst: connecting},
		},
		fsm.Callbacks{},
	)
}

// transition fires event on machine. Self-transitions are not errors.
func transition(machine *fsm.FSM, event string) error {
	err := machine.Event(context.Background(), event)
	if err == nil {
		return nil
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return fmt.Errorf("transition %s from %s: %w", event, machine.Current(), err)
}

func currentPhase(machine *fsm.FSM) Phase {
	p, err := ParsePhase(machine.Current())
	if err != nil {
		return Connecting
	}
	return p
}
