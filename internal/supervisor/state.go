// Package supervisor runs a fixed set of child services as one unit: it
// starts them in order, watches them, and stops all of them together.
package supervisor

// State represents the lifecycle stage of the supervisor.
type State int

const (
	// StateIdle is the initial state before Start.
	StateIdle State = iota

	// StateStarting indicates services are being spawned.
	StateStarting

	// StateRunning indicates every service was spawned and is monitored.
	StateRunning

	// StateShuttingDown indicates children are being stopped.
	StateShuttingDown

	// StateStopped indicates shutdown finished. It is terminal.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsActive returns true while children may be running.
func (s State) IsActive() bool {
	return s == StateStarting || s == StateRunning || s == StateShuttingDown
}

// IsTerminal returns true if the state is a terminal state (stopped).
func (s State) IsTerminal() bool {
	return s == StateStopped
}

// Reason records what triggered shutdown.
type Reason int

const (
	// ReasonNone means shutdown has not been triggered.
	ReasonNone Reason = iota

	// ReasonOperator is an explicit Stop call (TUI quit, API).
	ReasonOperator

	// ReasonSignal is SIGINT or SIGTERM delivered to the supervisor.
	ReasonSignal

	// ReasonContext is cancellation of the context passed to Start or Run.
	ReasonContext

	// ReasonChildExited is a child exiting on its own.
	ReasonChildExited

	// ReasonStreamsClosed is every output stream reaching end of input.
	ReasonStreamsClosed

	// ReasonStartFailed is a spawn or readiness failure during Start.
	ReasonStartFailed
)

// String returns a human-readable name for the reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonOperator:
		return "operator"
	case ReasonSignal:
		return "signal"
	case ReasonContext:
		return "context"
	case ReasonChildExited:
		return "child_exited"
	case ReasonStreamsClosed:
		return "streams_closed"
	case ReasonStartFailed:
		return "start_failed"
	default:
		return "unknown"
	}
}

// IsFailure reports whether the reason is a failure rather than a request
// to stop.
func (r Reason) IsFailure() bool {
	switch r {
	case ReasonChildExited, ReasonStreamsClosed, ReasonStartFailed:
		return true
	default:
		return false
	}
}

// ExitCode returns the process exit code for a shutdown with this reason:
// 0 for a requested stop, 1 for a failure.
func (r Reason) ExitCode() int {
	if r.IsFailure() {
		return 1
	}
	return 0
}
