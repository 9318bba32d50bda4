package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"atelier/internal/capability"
)

// Info is a point-in-time snapshot of a machine.
type Info struct {
	ID        string
	Kind      capability.Kind
	State     State
	Epoch     uint64
	CreatedAt time.Time
	Err       string
}

// Machine is the mutex-guarded lifecycle record for one capability. All
// mutations go through its methods; epoch comparison at delivery time is the
// authoritative stale-event filter.
type Machine struct {
	mu        sync.Mutex
	kind      capability.Kind
	state     State
	epoch     uint64
	id        string
	createdAt time.Time
	errMsg    string
	stale     uint64
}

// NewMachine creates an idle machine for the given capability kind.
func NewMachine(kind capability.Kind) *Machine {
	return &Machine{kind: kind, state: StateIdle}
}

// Begin accepts a new session: it mints the next epoch, assigns a session id,
// and moves to Initializing. A session that is not in a startable state is
// rejected with ErrBusy and nothing changes.
func (m *Machine) Begin() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !CanStart(m.state) {
		return 0, capability.Wrap(capability.ErrBusy, string(m.kind), "start",
			fmt.Sprintf("session is %s", m.state), nil)
	}

	m.epoch++
	m.id = uuid.NewString()
	m.createdAt = time.Now().UTC()
	m.errMsg = ""
	m.state = StateInitializing
	return m.epoch, nil
}

// MarkReady records a successful engine initialization for the given epoch.
func (m *Machine) MarkReady(epoch uint64) bool {
	return m.transition(epoch, StateReady)
}

// Activate records a successful engine start for the given epoch.
func (m *Machine) Activate(epoch uint64) bool {
	return m.transition(epoch, StateActive)
}

// Complete moves an active session of the given epoch to Completed.
func (m *Machine) Complete(epoch uint64) bool {
	return m.transition(epoch, StateCompleted)
}

// Fail moves the session of the given epoch to Failed and records the error.
// The epoch is retained for audit; a later start supersedes it.
func (m *Machine) Fail(epoch uint64, msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch || !validTransition(m.state, StateFailed) {
		return false
	}
	m.state = StateFailed
	m.errMsg = msg
	return true
}

// Abort returns a session that never reached a terminal state to Idle, for
// example when the gateway rejected the start call. The epoch advances so any
// events the aborted run already queued can no longer match.
func (m *Machine) Abort(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch || !validTransition(m.state, StateIdle) {
		return false
	}
	m.state = StateIdle
	m.epoch++
	return true
}

// Cancel moves a live session to Cancelling. The epoch advances immediately,
// which suppresses every event the cancelled run may still deliver, including
// a completion for a gateway call that has not returned yet. The caller aborts
// the engine and then lands the session in Idle with FinishCancel. Returns
// false when there is nothing to cancel; a second cancel while Cancelling
// forces Idle directly.
func (m *Machine) Cancel() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateInitializing, StateReady, StateActive:
		cancelled := m.epoch
		m.state = StateCancelling
		m.epoch++
		m.errMsg = ""
		return cancelled, true
	case StateCancelling:
		m.state = StateIdle
		return 0, false
	default:
		return 0, false
	}
}

// FinishCancel completes a cancellation: Cancelling lands in Idle.
func (m *Machine) FinishCancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateCancelling {
		return false
	}
	m.state = StateIdle
	return true
}

// Acknowledge resets a Completed or Failed session back to Idle.
func (m *Machine) Acknowledge() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateCompleted && m.state != StateFailed {
		return false
	}
	m.state = StateIdle
	m.errMsg = ""
	return true
}

// ObserveActive reports whether an event stamped with the given epoch may be
// delivered: the session must still be Active under that exact epoch. A
// mismatch is counted as a stale drop, never an error.
func (m *Machine) ObserveActive(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateActive && epoch == m.epoch {
		return true
	}
	m.stale++
	return false
}

// ObserveFinal is ObserveActive widened for final results, which may land
// after a graceful stop already moved the session to Completed. The epoch
// comparison stays authoritative.
func (m *Machine) ObserveFinal(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch == m.epoch && (m.state == StateActive || m.state == StateCompleted) {
		return true
	}
	m.stale++
	return false
}

// Epoch returns the current epoch.
func (m *Machine) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StaleDrops returns how many epoch-mismatched events were dropped. Expected
// to be nonzero under rapid cancel/restart; diagnostics only.
func (m *Machine) StaleDrops() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale
}

// Snapshot returns a copy of the machine's visible fields.
func (m *Machine) Snapshot() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Info{
		ID:        m.id,
		Kind:      m.kind,
		State:     m.state,
		Epoch:     m.epoch,
		CreatedAt: m.createdAt,
		Err:       m.errMsg,
	}
}

func (m *Machine) transition(epoch uint64, to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch || !validTransition(m.state, to) {
		return false
	}
	m.state = to
	return true
}
