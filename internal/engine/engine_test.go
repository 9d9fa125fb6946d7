package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

// --- test doubles ---

// scriptedRunners resolves node types to test runners and records the order
// in which nodes were executed.
type scriptedRunners struct {
	mu      sync.Mutex
	byType  map[string]Runner
	order   []string
	seenCtx map[string]*NodeContext
}

func newScriptedRunners() *scriptedRunners {
	return &scriptedRunners{byType: map[string]Runner{}, seenCtx: map[string]*NodeContext{}}
}

func (s *scriptedRunners) on(nodeType string, fn RunnerFunc) *scriptedRunners {
	s.byType[nodeType] = fn
	return s
}

func (s *scriptedRunners) Resolve(nodeType string) Runner {
	r, ok := s.byType[nodeType]
	if !ok {
		r = echoRunner
	}
	return RunnerFunc(func(ctx context.Context, node *schema.NodeDefinition, nctx *NodeContext) (*Outcome, error) {
		s.mu.Lock()
		s.order = append(s.order, node.Name)
		s.seenCtx[node.Name] = nctx
		s.mu.Unlock()
		return r.Run(ctx, node, nctx)
	})
}

func (s *scriptedRunners) executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

var echoRunner = RunnerFunc(func(_ context.Context, node *schema.NodeDefinition, _ *NodeContext) (*Outcome, error) {
	return &Outcome{Status: schema.StatusSuccess, Output: node.Parameters}, nil
})

var responseRunner = RunnerFunc(func(_ context.Context, node *schema.NodeDefinition, nctx *NodeContext) (*Outcome, error) {
	status, _ := node.Parameters["status"].(int)
	nctx.SetResponse(node.Parameters["body"], status, map[string]string{"X-Node": node.Name})
	return &Outcome{Output: map[string]any{"captured": true}}, nil
})

var inputRunner = RunnerFunc(func(ctx context.Context, node *schema.NodeDefinition, nctx *NodeContext) (*Outcome, error) {
	data, err := nctx.WaitForInput(ctx, schema.PendingInputConfig{
		Title:  "Approve?",
		Fields: []schema.InputField{{Key: "user_input", Required: true}},
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{Output: data}, nil
})

func node(name, typ string, params map[string]any) schema.NodeDefinition {
	return schema.NodeDefinition{Name: name, Type: typ, Parameters: params}
}

func link(targets ...string) []schema.BranchGroup {
	group := schema.BranchGroup{}
	for _, t := range targets {
		group = append(group, schema.ConnectionRule{Node: t})
	}
	return []schema.BranchGroup{group}
}

func chain(names ...string) map[string][]schema.BranchGroup {
	conns := map[string][]schema.BranchGroup{}
	for i := 0; i+1 < len(names); i++ {
		conns[names[i]] = link(names[i+1])
	}
	return conns
}

// stepPending reports whether a step gate is waiting to be released.
func stepPending(e *Engine) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stepGate != nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

type runCall struct {
	res *RunResult
	err error
}

func runAsync(ctx context.Context, e *Engine, mode Mode, opts RunOptions) <-chan runCall {
	ch := make(chan runCall, 1)
	go func() {
		res, err := e.Run(ctx, mode, opts)
		ch <- runCall{res, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan runCall) runCall {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
		return runCall{}
	}
}

// --- traversal ---

func TestRun_SharedInputsReachSuccessor(t *testing.T) {
	wf := &schema.WorkflowDefinition{
		Name:        "example",
		Nodes:       []schema.NodeDefinition{node("A", "manual", nil), node("B", "js", nil)},
		Connections: chain("A", "B"),
	}
	runners := newScriptedRunners().
		on("manual", func(context.Context, *schema.NodeDefinition, *NodeContext) (*Outcome, error) {
			return &Outcome{Status: schema.StatusSuccess, Output: map[string]any{"x": 1}}, nil
		}).
		on("js", func(_ context.Context, _ *schema.NodeDefinition, nctx *NodeContext) (*Outcome, error) {
			x := nctx.SharedInputs()["x"]
			return &Outcome{Status: schema.StatusSuccess, Inputs: map[string]any{"x": x}, Output: map[string]any{"doubled": x.(int) * 2}}, nil
		})

	res, err := New(wf, runners, nil).Run(context.Background(), ModeRun, RunOptions{})
	require.NoError(t, err)

	require.Len(t, res.Results, 2)
	assert.Equal(t, schema.StatusSuccess, res.Results["A"].Status)
	assert.Equal(t, schema.StatusSuccess, res.Results["B"].Status)
	assert.Equal(t, map[string]any{"x": 1}, res.Results["B"].Inputs)
	assert.Equal(t, map[string]any{"doubled": 2}, res.Results["B"].Output)
	assert.NotNil(t, res.Results["B"].EndTime)

	bctx := runners.seenCtx["B"]
	assert.Equal(t, map[string]any{"x": 1}, bctx.Inputs["A"])
}

func TestRun_SeedsAllTriggersInDefinitionOrder(t *testing.T) {
	wf := &schema.WorkflowDefinition{Nodes: []schema.NodeDefinition{
		node("Work", "js", nil),
		node("Hook", "webhook", nil),
		node("Tick", "timer", nil),
	}}
	runners := newScriptedRunners()

	_, err := New(wf, runners, nil).Run(context.Background(), ModeRun, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hook", "Tick"}, runners.executed())
}

func TestRun_FallsBackToFirstNode(t *testing.T) {
	wf := &schema.WorkflowDefinition{
		Nodes:       []schema.NodeDefinition{node("First", "js", nil), node("Second", "js", nil)},
		Connections: chain("First", "Second"),
	}
	runners := newScriptedRunners()

	_, err := New(wf, runners, nil).Run(context.Background(), ModeRun, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"First", "Second"}, runners.executed())
}

func TestRun_CustomTriggerTypes(t *testing.T) {
	wf := &schema.WorkflowDefinition{Nodes: []schema.NodeDefinition{
		node("A", "manual", nil),
		node("B", "kafka", nil),
	}}
	runners := newScriptedRunners()

	_, err := New(wf, runners, nil, WithTriggerTypes("kafka")).Run(context.Background(), ModeRun, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, runners.executed())
}

func TestRun_EmptyWorkflow(t *testing.T) {
	res, err := New(&schema.WorkflowDefinition{}, newScriptedRunners(), nil).Run(context.Background(), ModeRun, RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.NotEmpty(t, res.Logs)
}

func TestRun_NoDoubleExecutionOnDiamond(t *testing.T) {
	wf := &schema.WorkflowDefinition{
		Nodes: []schema.NodeDefinition{
			node("A", "manual", nil), node("B", "js", nil), node("C", "js", nil), node("D", "js", nil),
		},
		Connections: map[string][]schema.BranchGroup{
			"A": {{{Node: "B"}}, {{Node: "C"}}},
			"B": link("D"),
			"C": link("D"),
			"D": link("A"),
		},
	}
	runners := newScriptedRunners()

	res, err := New(wf, runners, nil).Run(context.Background(), ModeRun, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, runners.executed())
	assert.Len(t, res.Results, 4)
}

func TestRun_SelfLoopRunsOnce(t *testing.T) {
	wf := &schema.WorkflowDefinition{
		Nodes:       []schema.NodeDefinition{node("A", "manual", nil)},
		Connections: map[string][]schema.BranchGroup{"A": link("A")},
	}
	runners := newScriptedRunners()

	_, err := New(wf, runners, nil).Run(context.Background(), ModeRun, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, runners.executed())
}

func TestRun_OnlySuccessPropagates(t *testing.T) {
	tests := []struct {
		name   string
		runner RunnerFunc
		status schema.ExecutionStatus
	}{
		{"error outcome", func(context.Context, *schema.NodeDefinition, *NodeContext) (*Outcome, error) {
			return &Outcome{Status: schema.StatusError, Error: "bad"}, nil
		}, schema.StatusError},
		{"skipped outcome", func(context.Context, *schema.NodeDefinition, *NodeContext) (*Outcome, error) {
			return &Outcome{Status: schema.StatusSkipped}, nil
		}, schema.StatusSkipped},
		{"returned error", func(context.Context, *schema.NodeDefinition, *NodeContext) (*Outcome, error) {
			return nil, errors.New("boom")
		}, schema.StatusError},
		{"panic", func(context.Context, *schema.NodeDefinition, *NodeContext) (*Outcome, error) {
			panic("kaboom")
		}, schema.StatusError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wf := &schema.WorkflowDefinition{
				Nodes: []schema.NodeDefinition{
					node("A", "manual", nil), node("B", "failing", nil), node("C", "js", nil), node("D", "js", nil),
				},
				Connections: map[string][]schema.BranchGroup{"A": link("B", "D"), "B": link("C")},
			}
			runners := newScriptedRunners().on("failing", tc.runner)

			res, err := New(wf, runners, nil).Run(context.Background(), ModeRun, RunOptions{})
			require.NoError(t, err)

			assert.Equal(t, tc.status, res.Results["B"].Status)
			assert.NotContains(t, res.Results, "C")
			assert.Equal(t, schema.StatusSuccess, res.Results["D"].Status, "siblings are unaffected")
		})
	}
}

func TestRun_RunnerErrorMessageRecorded(t *testing.T) {
	wf := &schema.WorkflowDefinition{Nodes: []schema.NodeDefinition{node("A", "manual", nil)}}
	runners := newScriptedRunners().on("manual", func(context.Context, *schema.NodeDefinition, *NodeContext) (*Outcome, error) {
		return nil, schema.NewError(schema.ErrCodeRunner, "url is required")
	})

	res, err := New(wf, runners, nil).Run(context.Background(), ModeRun, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "url is required", res.Results["A"].Error)
	assert.Contains(t, res.Logs[len(res.Logs)-2], "Node A Error: url is required")
}

func TestRun_NilRunnerRecordedAsError(t *testing.T) {
	wf := &schema.WorkflowDefinition{Nodes: []schema.NodeDefinition{node("A", "mystery", nil)}}
	resolver := ResolverFunc(func(string) Runner { return nil })

	res, err := New(wf, resolver, nil).Run(context.Background(), ModeRun, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusError, res.Results["A"].Status)
	assert.Contains(t, res.Results["A"].Error, "mystery")
}

func TestRun_GuardsAreANDedAndGroupsFlattened(t *testing.T) {
	wf := &schema.WorkflowDefinition{
		Nodes: []schema.NodeDefinition{
			node("A", "manual", nil), node("Yes", "js", nil), node("No", "js", nil), node("Mixed", "js", nil), node("Empty", "js", nil),
		},
		Connections: map[string][]schema.BranchGroup{
			"A": {
				{{Node: "Yes", When: []any{true, "true"}}, {Node: "No", When: []any{false}}},
				{{Node: "Mixed", When: []any{true, "nope"}}},
				{{Node: "Empty", When: []any{}}},
			},
		},
	}
	runners := newScriptedRunners()

	_, err := New(wf, runners, nil).Run(context.Background(), ModeRun, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "Yes", "Empty"}, runners.executed())
}

func TestRun_GuardSeesSourceOutput(t *testing.T) {
	wf := &schema.WorkflowDefinition{
		Nodes: []schema.NodeDefinition{
			node("A", "manual", map[string]any{"ok": true}), node("B", "js", nil), node("C", "js", nil),
		},
		Connections: map[string][]schema.BranchGroup{
			"A": link("B", "C"),
		},
	}
	wf.Connections["A"][0][0].When = []any{"ok"}
	wf.Connections["A"][0][1].When = []any{"missing"}
	cond := ConditionFunc(func(_ context.Context, guard any, nctx *NodeContext) bool {
		v, _ := nctx.SharedInputs()[guard.(string)].(bool)
		return v
	})
	runners := newScriptedRunners()

	_, err := New(wf, runners, cond).Run(context.Background(), ModeRun, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, runners.executed())
}

func TestRun_GuardPanicIsFalse(t *testing.T) {
	wf := &schema.WorkflowDefinition{
		Nodes:       []schema.NodeDefinition{node("A", "manual", nil), node("B", "js", nil)},
		Connections: map[string][]schema.BranchGroup{"A": {{{Node: "B", When: []any{"x"}}}}},
	}
	cond := ConditionFunc(func(context.Context, any, *NodeContext) bool { panic("bad guard") })
	runners := newScriptedRunners()

	res, err := New(wf, runners, cond).Run(context.Background(), ModeRun, RunOptions{})
	require.NoError(t, err)
	assert.NotContains(t, res.Results, "B")
}

func TestRun_MissingTargetSkipped(t *testing.T) {
	wf := &schema.WorkflowDefinition{
		Nodes:       []schema.NodeDefinition{node("A", "manual", nil), node("B", "js", nil)},
		Connections: map[string][]schema.BranchGroup{"A": link("Ghost", "B")},
	}
	runners := newScriptedRunners()

	res, err := New(wf, runners, nil).Run(context.Background(), ModeRun, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, runners.executed())
	assert.Contains(t, joinLogs(res.Logs), "Node Ghost not found")
}

func TestRun_MergedGlobalsAndTriggerData(t *testing.T) {
	wf := &schema.WorkflowDefinition{
		Global: map[string]any{"env": "prod", "region": "eu"},
		Nodes: []schema.NodeDefinition{
			{Name: "A", Type: "manual", Global: map[string]any{"region": "us"}},
		},
	}
	runners := newScriptedRunners()

	_, err := New(wf, runners, nil).Run(context.Background(), ModeRun, RunOptions{
		EventID:     "evt-9",
		TriggerData: map[string]any{"body": "hi"},
	})
	require.NoError(t, err)

	nctx := runners.seenCtx["A"]
	assert.Equal(t, map[string]any{"env": "prod", "region": "us"}, nctx.Global)
	assert.Equal(t, "hi", nctx.TriggerData["body"])
	assert.Equal(t, "evt-9", nctx.EventID)
	assert.True(t, nctx.CanWaitForInput())
}

func TestRun_NodeLogsAccumulate(t *testing.T) {
	wf := &schema.WorkflowDefinition{Nodes: []schema.NodeDefinition{node("A", "manual", nil), node("B", "js", nil)}, Connections: chain("A", "B")}
	runners := newScriptedRunners().
		on("manual", func(_ context.Context, _ *schema.NodeDefinition, nctx *NodeContext) (*Outcome, error) {
			nctx.Logf("fetched %d rows", 3)
			return &Outcome{}, nil
		}).
		on("js", func(_ context.Context, _ *schema.NodeDefinition, nctx *NodeContext) (*Outcome, error) {
			nctx.Logf("ignored")
			return &Outcome{Logs: []string{"own"}}, nil
		})

	res, err := New(wf, runners, nil).Run(context.Background(), ModeRun, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"fetched 3 rows"}, res.Results["A"].Logs)
	assert.Equal(t, []string{"own"}, res.Results["B"].Logs)
	assert.Contains(t, joinLogs(res.Logs), "[A] fetched 3 rows")
}

// --- response capture ---

func TestRun_InitializesResponseContext(t *testing.T) {
	for _, eventID := range []string{"evt-123", ""} {
		wf := &schema.WorkflowDefinition{Nodes: []schema.NodeDefinition{node("A", "manual", nil)}}
		var first *schema.WorkflowExecutionState
		observer := func(s *schema.WorkflowExecutionState) {
			if first == nil && s.IsRunning {
				first = s
			}
		}

		res, err := New(wf, newScriptedRunners(), nil, WithObserver(observer)).
			Run(context.Background(), ModeRun, RunOptions{EventID: eventID})
		require.NoError(t, err)

		require.NotNil(t, first)
		require.NotNil(t, first.ResponseContext)
		assert.False(t, first.ResponseContext.HasResponse)
		assert.Equal(t, eventID, first.ResponseContext.EventID)
		assert.Empty(t, first.NodeResults, "no node has run yet")
		assert.Equal(t, eventID, res.Response.EventID)
		assert.False(t, res.Response.HasResponse)
	}
}

func TestRun_LastResponseWins(t *testing.T) {
	wf := &schema.WorkflowDefinition{
		Nodes: []schema.NodeDefinition{
			node("Start", "manual", nil),
			node("R1", "response", map[string]any{"body": "first", "status": 201}),
			node("R2", "response", map[string]any{"body": "second", "status": 202}),
			node("R3", "response", map[string]any{"body": map[string]any{"final": true}, "status": 203}),
		},
		Connections: chain("Start", "R1", "R2", "R3"),
	}
	var seen []schema.ResponseContext
	runners := newScriptedRunners().on("response", responseRunner)

	res, err := New(wf, runners, nil).Run(context.Background(), ModeRun, RunOptions{
		EventID:    "evt-abc",
		OnResponse: func(rc schema.ResponseContext) { seen = append(seen, rc) },
	})
	require.NoError(t, err)

	assert.True(t, res.Response.HasResponse)
	assert.Equal(t, map[string]any{"final": true}, res.Response.Body)
	assert.Equal(t, 203, res.Response.StatusCode)
	assert.Equal(t, map[string]string{"X-Node": "R3"}, res.Response.Headers)
	assert.Equal(t, "evt-abc", res.Response.EventID)

	require.Len(t, seen, 3)
	assert.Equal(t, "first", seen[0].Body)
	assert.Equal(t, "evt-abc", seen[0].EventID)
}

func TestRun_ResponseDefaultsStatus(t *testing.T) {
	wf := &schema.WorkflowDefinition{Nodes: []schema.NodeDefinition{node("R", "response", map[string]any{"body": "ok"})}}
	runners := newScriptedRunners().on("response", responseRunner)

	res, err := New(wf, runners, nil).Run(context.Background(), ModeRun, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 200, res.Response.StatusCode)
}

// --- lifecycle ---

func TestRun_FreshRunClearsPreviousResults(t *testing.T) {
	wf := &schema.WorkflowDefinition{Nodes: []schema.NodeDefinition{node("A", "manual", nil)}}
	runners := newScriptedRunners().on("response", responseRunner)
	e := New(wf, runners, nil)

	_, err := e.Run(context.Background(), ModeRun, RunOptions{EventID: "one"})
	require.NoError(t, err)
	res, err := e.Run(context.Background(), ModeRun, RunOptions{EventID: "two"})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "A"}, runners.executed(), "a completed run is not a resume")
	assert.Equal(t, "two", res.Response.EventID)
	assert.Contains(t, res.Logs[0], "Starting execution in run mode")
	assert.Equal(t, PhaseCompleted, e.Phase())
	assert.False(t, e.State().IsRunning)
}

func TestRun_ResumeSkipsCompletedNodes(t *testing.T) {
	wf := &schema.WorkflowDefinition{
		Nodes:       []schema.NodeDefinition{node("A", "manual", nil), node("B", "js", nil), node("C", "js", nil)},
		Connections: chain("A", "B", "C"),
	}
	prior := schema.NewExecutionState()
	prior.IsPaused = true
	prior.Logs = []string{"earlier"}
	prior.ResponseContext = schema.NewResponseContext("evt-old")
	prior.NodeResults["A"] = &schema.NodeExecutionResult{
		NodeName: "A", Status: schema.StatusSuccess, StartTime: time.Unix(10, 0),
		Output: map[string]any{"x": 7},
	}
	runners := newScriptedRunners()

	res, err := New(wf, runners, nil, WithInitialState(prior)).Run(context.Background(), ModeRun, RunOptions{EventID: "ignored"})
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "C"}, runners.executed())
	assert.Equal(t, 7, runners.seenCtx["B"].SharedInputs()["x"])
	assert.Equal(t, map[string]any{"x": 7}, runners.seenCtx["B"].Inputs["A"])
	assert.Equal(t, "earlier", res.Logs[0], "resume keeps accumulated logs")
	assert.Equal(t, "evt-old", res.Response.EventID)
}

func TestRun_RebuildOrdersSharedMergeByStartTime(t *testing.T) {
	prior := schema.NewExecutionState()
	prior.WaitingForInput = true
	prior.NodeResults["Late"] = &schema.NodeExecutionResult{NodeName: "Late", Status: schema.StatusSuccess, StartTime: time.Unix(20, 0), Output: map[string]any{"k": "late"}}
	prior.NodeResults["Early"] = &schema.NodeExecutionResult{NodeName: "Early", Status: schema.StatusSuccess, StartTime: time.Unix(10, 0), Output: map[string]any{"k": "early"}}
	prior.NodeResults["Failed"] = &schema.NodeExecutionResult{NodeName: "Failed", Status: schema.StatusError, StartTime: time.Unix(30, 0), Output: map[string]any{"k": "failed"}}

	e := New(&schema.WorkflowDefinition{}, newScriptedRunners(), nil, WithInitialState(prior))
	inputs := e.rebuildInputs()

	assert.Equal(t, map[string]any{"k": "late"}, inputs[schema.SharedInputKey])
	assert.NotContains(t, inputs, "Failed")
}

func TestRun_EngineFault(t *testing.T) {
	wf := &schema.WorkflowDefinition{Nodes: []schema.NodeDefinition{node("A", "manual", nil)}}
	resolver := ResolverFunc(func(string) Runner { panic("registry corrupted") })
	e := New(wf, resolver, nil)

	res, err := e.Run(context.Background(), ModeRun, RunOptions{})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeEngineFault))
	require.NotNil(t, res)
	assert.Contains(t, joinLogs(res.Logs), "Critical error: registry corrupted")

	s := e.State()
	assert.False(t, s.IsRunning)
	assert.False(t, s.IsPaused)
	assert.Equal(t, PhaseFailed, e.Phase())
}

func TestRun_ObserverAndHooks(t *testing.T) {
	wf := &schema.WorkflowDefinition{Nodes: []schema.NodeDefinition{node("A", "manual", nil)}}
	var snapshots int
	var events []NodeEvent
	var moves []string
	e := New(wf, newScriptedRunners(), nil,
		WithObserver(func(*schema.WorkflowExecutionState) {
			snapshots++
			panic("observer failures are contained")
		}),
		WithNodeHook(func(ev NodeEvent) { events = append(events, ev) }),
		WithPhaseHook(func(from, to Phase) { moves = append(moves, string(from)+">"+string(to)) }),
	)

	_, err := e.Run(context.Background(), ModeRun, RunOptions{})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, snapshots, 4)
	require.Len(t, events, 2)
	assert.Equal(t, schema.StatusRunning, events[0].Status)
	assert.Equal(t, schema.StatusSuccess, events[1].Status)
	assert.Equal(t, "manual", events[1].Type)
	assert.Equal(t, []string{"idle>running", "running>completed"}, moves)
}

func TestRun_ContextCancelledStops(t *testing.T) {
	wf := &schema.WorkflowDefinition{
		Nodes:       []schema.NodeDefinition{node("A", "manual", nil), node("B", "js", nil)},
		Connections: chain("A", "B"),
	}
	ctx, cancel := context.WithCancel(context.Background())
	runners := newScriptedRunners().on("manual", func(context.Context, *schema.NodeDefinition, *NodeContext) (*Outcome, error) {
		cancel()
		return &Outcome{}, nil
	})
	e := New(wf, runners, nil)

	res, err := e.Run(ctx, ModeRun, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, runners.executed())
	assert.Contains(t, joinLogs(res.Logs), "Execution cancelled")
	assert.Equal(t, PhaseTerminated, e.Phase())
}

// --- completion handle ---

func TestCompletion_SingleFulfillment(t *testing.T) {
	c := newCompletion[int]()
	require.NoError(t, c.fulfill(42))
	<-c.Done()
	assert.Equal(t, 42, c.result())

	err := c.fulfill(7)
	assert.True(t, schema.HasCode(err, schema.ErrCodeAlreadyFulfilled))
	assert.Equal(t, 42, c.result())
	assert.Panics(t, func() { c.mustFulfill(1) })
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeStep, ParseMode("step"))
	assert.Equal(t, ModeRun, ParseMode("run"))
	assert.Equal(t, ModeRun, ParseMode(""))
}

func joinLogs(lines []string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}
