package analyzer

// State represents the lifecycle state of a supervised analyzer.
//
// The machine is re-entrant: Inactive is both the initial state and the
// state every teardown path returns to, so start/stop cycles can repeat
// for the lifetime of the host application.
type State int32

const (
	// StateInactive means no analyzer process exists.
	StateInactive State = iota
	// StateLaunching means the process has been spawned but bring-up is
	// not yet confirmed.
	StateLaunching
	// StateRunning means the analyzer is ready for requests.
	StateRunning
	// StateStopping means an orderly shutdown is in progress.
	StateStopping
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// CanTransition reports whether moving from s to next is a legal transition.
//
//	Inactive  -> Launching            (start)
//	Launching -> Running              (bring-up confirmed)
//	Launching -> Inactive             (spawn failed or process exited)
//	Launching -> Stopping             (stop aborts the pending launch)
//	Running   -> Stopping             (stop)
//	Running   -> Inactive             (unexpected process exit)
//	Stopping  -> Inactive             (teardown complete)
func (s State) CanTransition(next State) bool {
	switch s {
	case StateInactive:
		return next == StateLaunching
	case StateLaunching:
		return next == StateRunning || next == StateInactive || next == StateStopping
	case StateRunning:
		return next == StateStopping || next == StateInactive
	case StateStopping:
		return next == StateInactive
	default:
		return false
	}
}

// StateChange describes a single observed transition.
type StateChange struct {
	From State
	To   State
}

// StateChangeFunc receives state transitions. Handlers run off the
// supervisor's critical path and must not assume any ordering relative
// to subsequent transitions.
type StateChangeFunc func(change StateChange)

// DiagnosticFunc receives one verbatim line from the analyzer's
// diagnostic (stderr) stream.
type DiagnosticFunc func(line string)
