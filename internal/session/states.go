package session

// State represents the lifecycle of a capability session.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateActive       State = "active"
	StateCancelling   State = "cancelling"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// CanStart reports whether a new session may begin from the given state.
// Completed and Failed are caller-acknowledged terminal points that reset on
// the next start.
func CanStart(s State) bool {
	switch s {
	case StateIdle, StateReady, StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state is a resting point that only start or
// an explicit acknowledgment leaves.
func IsTerminal(s State) bool {
	switch s {
	case StateIdle, StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

// validTransition enforces the legal state machine edges.
func validTransition(from, to State) bool {
	switch from {
	case StateIdle, StateCompleted, StateFailed:
		return to == StateInitializing
	case StateInitializing:
		return to == StateReady || to == StateCancelling || to == StateFailed || to == StateIdle
	case StateReady:
		return to == StateActive || to == StateInitializing || to == StateCancelling || to == StateFailed || to == StateIdle
	case StateActive:
		return to == StateCancelling || to == StateCompleted || to == StateFailed
	case StateCancelling:
		return to == StateIdle
	default:
		return false
	}
}
