package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

func linearWorkflow() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		Name: "linear",
		Nodes: []schema.NodeDefinition{
			node("A", "manual", nil), node("B", "js", nil), node("C", "js", nil), node("D", "js", nil),
		},
		Connections: chain("A", "B", "C", "D"),
	}
}

// advance waits for the next step gate and releases it.
func advance(t *testing.T, e *Engine) {
	t.Helper()
	waitFor(t, func() bool { return e.AdvanceStep() == nil })
}

func TestStep_AdvanceExecutesExactlyOneNode(t *testing.T) {
	runners := newScriptedRunners()
	e := New(linearWorkflow(), runners, nil)
	done := runAsync(context.Background(), e, ModeStep, RunOptions{})

	for k := 1; k <= 3; k++ {
		advance(t, e)
		waitFor(t, func() bool { return stepPending(e) })
		assert.Len(t, runners.executed(), k, "after %d advances", k)

		s := e.State()
		assert.True(t, s.IsPaused)
		assert.True(t, s.IsRunning)
		assert.Equal(t, PhasePaused, e.Phase())
	}
	assert.Equal(t, []string{"A", "B", "C"}, runners.executed())

	advance(t, e)
	c := await(t, done)
	require.NoError(t, c.err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, runners.executed())
	assert.Contains(t, joinLogs(c.res.Logs), "[Step] Paused at: D")
	assert.False(t, e.State().IsPaused)
}

func TestStep_AdvanceWithoutPauseFails(t *testing.T) {
	e := New(linearWorkflow(), newScriptedRunners(), nil)
	err := e.AdvanceStep()
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidTransition))
}

func TestStep_ResumeSwitchesToContinuous(t *testing.T) {
	runners := newScriptedRunners()
	e := New(linearWorkflow(), runners, nil)
	done := runAsync(context.Background(), e, ModeStep, RunOptions{})

	advance(t, e)
	waitFor(t, func() bool { return stepPending(e) })
	require.NoError(t, e.Resume())

	c := await(t, done)
	require.NoError(t, c.err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, runners.executed())
	assert.Equal(t, ModeRun, e.Mode())
	assert.Equal(t, PhaseCompleted, e.Phase())
}

func TestStep_ResumeBeforeFirstPause(t *testing.T) {
	e := New(linearWorkflow(), newScriptedRunners(), nil)
	require.NoError(t, e.Resume(), "resume without a pending pause is harmless")
	assert.Equal(t, ModeRun, e.Mode())
}

func TestStep_TerminateWhilePaused(t *testing.T) {
	runners := newScriptedRunners()
	e := New(linearWorkflow(), runners, nil)
	done := runAsync(context.Background(), e, ModeStep, RunOptions{})

	advance(t, e)
	waitFor(t, func() bool { return stepPending(e) })
	require.NoError(t, e.Terminate())

	c := await(t, done)
	require.NoError(t, c.err)
	assert.Equal(t, []string{"A"}, runners.executed(), "the paused node must not run after terminate")
	assert.NotContains(t, c.res.Results, "B")

	s := e.State()
	assert.False(t, s.IsRunning)
	assert.False(t, s.IsPaused)
	assert.Equal(t, PhaseTerminated, e.Phase())
	assert.Contains(t, joinLogs(s.Logs), "Execution terminated by user.")
}

func TestStep_ContextCancelWhilePaused(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runners := newScriptedRunners()
	e := New(linearWorkflow(), runners, nil)
	done := runAsync(ctx, e, ModeStep, RunOptions{})

	waitFor(t, func() bool { return stepPending(e) })
	cancel()

	c := await(t, done)
	require.NoError(t, c.err)
	assert.Empty(t, runners.executed())
	assert.Equal(t, PhaseTerminated, e.Phase())
}

func TestStep_ResumedNodesDoNotPause(t *testing.T) {
	prior := schema.NewExecutionState()
	prior.IsPaused = true
	prior.NodeResults["A"] = &schema.NodeExecutionResult{NodeName: "A", Status: schema.StatusSuccess}
	prior.NodeResults["B"] = &schema.NodeExecutionResult{NodeName: "B", Status: schema.StatusSuccess}
	runners := newScriptedRunners()
	e := New(linearWorkflow(), runners, nil, WithInitialState(prior))
	done := runAsync(context.Background(), e, ModeStep, RunOptions{})

	waitFor(t, func() bool { return stepPending(e) })
	assert.Contains(t, joinLogs(e.State().Logs), "[Step] Paused at: C")
	assert.Empty(t, runners.executed())

	require.NoError(t, e.Resume())
	c := await(t, done)
	require.NoError(t, c.err)
	assert.Equal(t, []string{"C", "D"}, runners.executed())
}

// --- human input ---

func inputWorkflow() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		Name: "approval",
		Nodes: []schema.NodeDefinition{
			node("Start", "manual", nil), node("Ask", "interaction", nil), node("After", "js", nil),
		},
		Connections: chain("Start", "Ask", "After"),
	}
}

func waitingForInput(e *Engine) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inputGate != nil
}

func TestInput_SubmitContinuesTraversal(t *testing.T) {
	runners := newScriptedRunners().on("interaction", inputRunner)
	e := New(inputWorkflow(), runners, nil)
	done := runAsync(context.Background(), e, ModeRun, RunOptions{})

	waitFor(t, func() bool { return waitingForInput(e) })
	s := e.State()
	assert.True(t, s.WaitingForInput)
	assert.True(t, s.IsRunning)
	require.NotNil(t, s.PendingInputConfig)
	assert.Equal(t, "Approve?", s.PendingInputConfig.Title)
	assert.Equal(t, "Ask", s.PendingInputConfig.NodeName)
	assert.Equal(t, PhaseWaiting, e.Phase())

	res, err := e.Run(context.Background(), ModeRun, RunOptions{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeAlreadyRunning), "re-entry while waiting is a no-op")
	assert.Equal(t, schema.StatusRunning, res.Results["Ask"].Status)

	require.NoError(t, e.SubmitInput(map[string]any{"user_input": "yes"}))
	c := await(t, done)
	require.NoError(t, c.err)

	assert.Equal(t, map[string]any{"user_input": "yes"}, c.res.Results["Ask"].Output)
	assert.Equal(t, "yes", runners.seenCtx["After"].SharedInputs()["user_input"])
	assert.Equal(t, []string{"Start", "Ask", "After"}, runners.executed())

	final := e.State()
	assert.False(t, final.WaitingForInput)
	assert.Nil(t, final.PendingInputConfig)
	assert.False(t, final.IsRunning)
}

func TestInput_SubmitWithoutWaitFails(t *testing.T) {
	e := New(inputWorkflow(), newScriptedRunners(), nil)
	err := e.SubmitInput(map[string]any{"x": 1})
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidTransition))
}

func TestInput_TerminateReleasesWait(t *testing.T) {
	runners := newScriptedRunners().on("interaction", inputRunner)
	e := New(inputWorkflow(), runners, nil)
	done := runAsync(context.Background(), e, ModeRun, RunOptions{})

	waitFor(t, func() bool { return waitingForInput(e) })
	require.NoError(t, e.Terminate())

	c := await(t, done)
	require.NoError(t, c.err)
	assert.Equal(t, schema.StatusError, c.res.Results["Ask"].Status)
	assert.Contains(t, c.res.Results["Ask"].Error, "terminated")
	assert.NotContains(t, c.res.Results, "After")

	s := e.State()
	assert.False(t, s.WaitingForInput)
	assert.False(t, s.IsRunning)
	assert.Equal(t, PhaseTerminated, e.Phase())
}

func TestInput_CancelledWaitSuspendsAndResumes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runners := newScriptedRunners().on("interaction", inputRunner)
	e := New(inputWorkflow(), runners, nil)
	done := runAsync(ctx, e, ModeRun, RunOptions{EventID: "evt-1"})

	waitFor(t, func() bool { return waitingForInput(e) })
	cancel()
	c := await(t, done)
	require.NoError(t, c.err)

	s := e.State()
	assert.True(t, s.WaitingForInput, "flags are left as the suspension set them")
	assert.True(t, s.IsRunning)
	assert.Equal(t, PhaseSuspended, e.Phase())

	// A later Run resumes: Start is not re-run, Ask asks again.
	done = runAsync(context.Background(), e, ModeRun, RunOptions{})
	waitFor(t, func() bool { return waitingForInput(e) })
	require.NoError(t, e.SubmitInput(map[string]any{"user_input": "late"}))
	c = await(t, done)
	require.NoError(t, c.err)

	assert.Equal(t, []string{"Start", "Ask", "Ask", "After"}, runners.executed())
	assert.Equal(t, "evt-1", c.res.Response.EventID)
	assert.Equal(t, schema.StatusSuccess, c.res.Results["Ask"].Status)
}

func TestInput_UnavailableDuringGuards(t *testing.T) {
	wf := &schema.WorkflowDefinition{
		Nodes:       []schema.NodeDefinition{node("A", "manual", nil), node("B", "js", nil)},
		Connections: map[string][]schema.BranchGroup{"A": {{{Node: "B", When: []any{"ask"}}}}},
	}
	var guardErr error
	cond := ConditionFunc(func(ctx context.Context, _ any, nctx *NodeContext) bool {
		_, guardErr = nctx.WaitForInput(ctx, schema.PendingInputConfig{})
		return nctx.CanWaitForInput()
	})

	res, err := New(wf, newScriptedRunners(), cond).Run(context.Background(), ModeRun, RunOptions{})
	require.NoError(t, err)
	assert.True(t, schema.HasCode(guardErr, schema.ErrCodeInputUnsupported))
	assert.NotContains(t, res.Results, "B")
}

func TestTerminate_IdleEngineClearsSuspension(t *testing.T) {
	prior := schema.NewExecutionState()
	prior.WaitingForInput = true
	prior.IsRunning = true
	prior.PendingInputConfig = &schema.PendingInputConfig{Title: "stale"}
	e := New(inputWorkflow(), newScriptedRunners(), nil, WithInitialState(prior))

	require.NoError(t, e.Terminate())
	s := e.State()
	assert.False(t, s.WaitingForInput)
	assert.False(t, s.IsRunning)
	assert.Nil(t, s.PendingInputConfig)
	assert.Equal(t, PhaseTerminated, e.Phase())
}
