package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

func TestPhaseMachine_ValidTransitions(t *testing.T) {
	m := newPhaseMachine()
	assert.Equal(t, PhaseIdle, m.current)

	require.NoError(t, m.transition(PhaseRunning))
	require.NoError(t, m.transition(PhasePaused))
	require.NoError(t, m.transition(PhaseRunning))
	require.NoError(t, m.transition(PhaseWaiting))
	require.NoError(t, m.transition(PhaseSuspended))
	require.NoError(t, m.transition(PhaseRunning))
	require.NoError(t, m.transition(PhaseCompleted))

	moves := m.drain()
	require.Len(t, moves, 7)
	assert.Equal(t, phaseMove{from: PhaseIdle, to: PhaseRunning}, moves[0])
	assert.Equal(t, phaseMove{from: PhaseRunning, to: PhaseCompleted}, moves[6])
	assert.Empty(t, m.drain())
}

func TestPhaseMachine_SelfTransitionIsNoop(t *testing.T) {
	m := newPhaseMachine()
	require.NoError(t, m.transition(PhaseIdle))
	assert.Empty(t, m.drain())
}

func TestPhaseMachine_InvalidTransitions(t *testing.T) {
	tests := []struct {
		from, to Phase
	}{
		{PhaseIdle, PhasePaused},
		{PhaseIdle, PhaseCompleted},
		{PhasePaused, PhaseWaiting},
		{PhaseSuspended, PhaseCompleted},
		{PhaseCompleted, PhaseFailed},
	}
	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			m := &phaseMachine{current: tc.from}
			err := m.transition(tc.to)
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidTransition))
			assert.Equal(t, tc.from, m.current)
			assert.Empty(t, m.drain())
		})
	}
}

func TestPhaseMachine_FinishedRunsCanRestart(t *testing.T) {
	for _, p := range []Phase{PhaseCompleted, PhaseTerminated, PhaseFailed} {
		m := &phaseMachine{current: p}
		assert.NoError(t, m.transition(PhaseRunning), "%s -> running", p)
	}
}

func TestPhase_RunStatus(t *testing.T) {
	assert.Equal(t, schema.RunStatusRunning, PhaseIdle.RunStatus())
	assert.Equal(t, schema.RunStatusRunning, PhaseRunning.RunStatus())
	assert.Equal(t, schema.RunStatusPaused, PhasePaused.RunStatus())
	assert.Equal(t, schema.RunStatusWaiting, PhaseWaiting.RunStatus())
	assert.Equal(t, schema.RunStatusSuspended, PhaseSuspended.RunStatus())
	assert.Equal(t, schema.RunStatusCompleted, PhaseCompleted.RunStatus())
	assert.Equal(t, schema.RunStatusTerminated, PhaseTerminated.RunStatus())
	assert.Equal(t, schema.RunStatusFailed, PhaseFailed.RunStatus())
}
