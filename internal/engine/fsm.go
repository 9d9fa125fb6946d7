package engine

import (
	"github.com/gw123/gflow-sub001/pkg/schema"
)

// Phase is the lifecycle state of an engine instance.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRunning    Phase = "running"
	PhasePaused     Phase = "paused"  // single-step gate pending
	PhaseWaiting    Phase = "waiting" // human input pending
	PhaseSuspended  Phase = "suspended"
	PhaseCompleted  Phase = "completed"
	PhaseTerminated Phase = "terminated"
	PhaseFailed     Phase = "failed"
)

// ValidPhaseTransitions defines the allowed engine phase transitions.
var ValidPhaseTransitions = map[Phase][]Phase{
	PhaseIdle:       {PhaseRunning, PhaseTerminated},
	PhaseRunning:    {PhasePaused, PhaseWaiting, PhaseCompleted, PhaseTerminated, PhaseFailed},
	PhasePaused:     {PhaseRunning, PhaseTerminated, PhaseFailed},
	PhaseWaiting:    {PhaseRunning, PhaseSuspended, PhaseTerminated, PhaseFailed},
	PhaseSuspended:  {PhaseRunning, PhaseTerminated},
	PhaseCompleted:  {PhaseRunning},
	PhaseTerminated: {PhaseRunning, PhaseFailed},
	PhaseFailed:     {PhaseRunning},
}

// RunStatus maps the phase onto the persisted execution status.
func (p Phase) RunStatus() schema.RunStatus {
	switch p {
	case PhasePaused:
		return schema.RunStatusPaused
	case PhaseWaiting:
		return schema.RunStatusWaiting
	case PhaseSuspended:
		return schema.RunStatusSuspended
	case PhaseCompleted:
		return schema.RunStatusCompleted
	case PhaseTerminated:
		return schema.RunStatusTerminated
	case PhaseFailed:
		return schema.RunStatusFailed
	default:
		return schema.RunStatusRunning
	}
}

// TransitionHook is called after a phase transition.
type TransitionHook func(from, to Phase)

type phaseMove struct {
	from, to Phase
}

// phaseMachine tracks the current phase. It is not safe for concurrent use;
// the engine guards it with its own mutex and dispatches the recorded moves
// to hooks after unlocking.
type phaseMachine struct {
	current Phase
	pending []phaseMove
}

func newPhaseMachine() *phaseMachine {
	return &phaseMachine{current: PhaseIdle}
}

// transition validates and applies a move. Self-transitions are no-ops.
func (m *phaseMachine) transition(to Phase) error {
	from := m.current
	if from == to {
		return nil
	}
	if !isValidPhaseTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid phase transition: %s -> %s", from, to).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}
	m.current = to
	m.pending = append(m.pending, phaseMove{from: from, to: to})
	return nil
}

// drain returns and clears the moves recorded since the last drain.
func (m *phaseMachine) drain() []phaseMove {
	moves := m.pending
	m.pending = nil
	return moves
}

func isValidPhaseTransition(from, to Phase) bool {
	for _, a := range ValidPhaseTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}
