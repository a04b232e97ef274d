// Package lifecycle runs the start and stop hooks of a long-lived service
// under a validated state machine and reports its health.
//
// The normal flow is
//
//	Unknown → Starting → Running → Stopping → Stopped
//
// A failing hook moves the service to Failed. Both terminal states may
// go back to Starting.
package lifecycle

import "slices"

// State is the lifecycle state of a [Service]. The zero value is not a
// valid state; services start in [StateUnknown].
type State string

const (
	StateUnknown  State = "unknown"
	StateStarting State = "starting"
	// StateRunning is the only state in which [Service.Health] can succeed.
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

func (s State) String() string { return string(s) }

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateStarting, StateRunning, StateStopping, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is Stopped or Failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// validTransitions:
//
//	Unknown  → Starting, Failed
//	Starting → Running, Stopping, Failed
//	Running  → Stopping, Failed
//	Stopping → Stopped, Failed
//	Stopped  → Starting
//	Failed   → Starting
var validTransitions = map[State][]State{
	StateUnknown:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateStopping, StateFailed},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
}

// ValidTransition reports whether from may move to to. Same-state
// transitions are rejected.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	return slices.Contains(validTransitions[from], to)
}
