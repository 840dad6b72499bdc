// Package lifecycle runs a service process: start and stop hooks, background
// workers and a validated state machine that the health endpoint reports.
//
// A service moves through
//
//	Unknown → Starting → Running → Stopping → Stopped
//
// and may enter Failed from any non-terminal state. Both terminal states
// allow a restart through Starting.
//
// Start and Stop create OpenTelemetry spans named "lifecycle.Start" and
// "lifecycle.Stop".
package lifecycle

// State is the lifecycle state of a [Service]. The zero value is not valid;
// a new service begins in [StateUnknown].
type State string

const (
	// StateUnknown is the state of a service that has never been started.
	StateUnknown State = "unknown"

	// StateStarting is set while OnStart hooks run.
	StateStarting State = "starting"

	// StateRunning is the only state in which [Service.Health] succeeds.
	StateRunning State = "running"

	// StateStopping is set while workers drain and OnStop hooks run.
	StateStopping State = "stopping"

	// StateStopped follows a clean shutdown.
	StateStopped State = "stopped"

	// StateFailed follows a hook error or a worker error.
	StateFailed State = "failed"
)

// String returns the state name, e.g. "running".
func (s State) String() string {
	return string(s)
}

// Valid reports whether s is a recognized state.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateStarting, StateRunning,
		StateStopping, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is Stopped or Failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// validTransitions lists the targets reachable from each state.
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

// ValidTransition reports whether from may move to to. Self transitions are
// never valid.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
