package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gw123/gflow-sub001/internal/logging"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

// workQueue is a FIFO of node names that rejects names already queued.
type workQueue struct {
	items  []string
	queued map[string]bool
}

func newWorkQueue(seed []string) *workQueue {
	q := &workQueue{queued: make(map[string]bool, len(seed))}
	for _, name := range seed {
		q.push(name)
	}
	return q
}

func (q *workQueue) push(name string) {
	if q.queued[name] {
		return
	}
	q.items = append(q.items, name)
	q.queued[name] = true
}

func (q *workQueue) pop() string {
	name := q.items[0]
	q.items = q.items[1:]
	delete(q.queued, name)
	return name
}

func (q *workQueue) Len() int {
	return len(q.items)
}

func (e *Engine) traverse(ctx context.Context) {
	queue := newWorkQueue(e.workflow.EntryNodes(e.isTrigger))
	inputs := e.rebuildInputs()
	processed := make(map[string]bool)

	for queue.Len() > 0 {
		// Cooperative yield: lets control calls from other goroutines land
		// between nodes.
		runtime.Gosched()

		if err := ctx.Err(); err != nil {
			e.cancel(err)
			break
		}
		if !e.running() {
			break
		}

		name := queue.pop()
		if processed[name] {
			continue
		}
		node := e.workflow.Node(name)
		if node == nil {
			e.update(func() {
				e.appendLogLocked(fmt.Sprintf("Node %s not found in workflow, skipping.", name))
			})
			processed[name] = true
			continue
		}

		done := e.succeeded(name)
		if !done {
			// A pause released by Terminate exits here; the paused node never runs.
			if !e.pauseBefore(ctx, name) {
				if err := ctx.Err(); err != nil {
					e.cancel(err)
				}
				break
			}
			e.executeNode(ctx, node, inputs)
		}

		if e.succeeded(name) {
			e.expand(ctx, node, inputs, processed, queue)
		}
		processed[name] = true
	}
}

// rebuildInputs reconstructs the aggregation map from prior successes, in
// start-time order so later outputs win in the shared merge.
func (e *Engine) rebuildInputs() map[string]any {
	e.mu.Lock()
	var done []*schema.NodeExecutionResult
	for _, r := range e.state.NodeResults {
		if r != nil && r.Status == schema.StatusSuccess {
			done = append(done, r)
		}
	}
	e.mu.Unlock()

	sort.SliceStable(done, func(i, j int) bool {
		if done[i].StartTime.Equal(done[j].StartTime) {
			return done[i].NodeName < done[j].NodeName
		}
		return done[i].StartTime.Before(done[j].StartTime)
	})

	inputs := map[string]any{schema.SharedInputKey: map[string]any{}}
	for _, r := range done {
		mergeOutput(inputs, r.NodeName, r.Output)
	}
	return inputs
}

// mergeOutput records a successful output. The shared map is replaced, not
// mutated, so copies handed to earlier runners stay stable.
func mergeOutput(inputs map[string]any, name string, output any) {
	inputs[name] = output
	prev, _ := inputs[schema.SharedInputKey].(map[string]any)
	merged := make(map[string]any, len(prev))
	for k, v := range prev {
		merged[k] = v
	}
	if m, ok := output.(map[string]any); ok {
		for k, v := range m {
			merged[k] = v
		}
	}
	inputs[schema.SharedInputKey] = merged
}

func (e *Engine) running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.IsRunning
}

func (e *Engine) succeeded(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Succeeded(name)
}

// cancel handles ctx ending mid-run. A run left waiting for input keeps its
// flags so it can be resumed later.
func (e *Engine) cancel(err error) {
	e.update(func() {
		e.appendLogLocked("Execution cancelled: " + err.Error())
		if e.state.WaitingForInput {
			return
		}
		e.state.IsRunning = false
		e.stopped = true
		e.transitionLocked(PhaseTerminated)
	})
}

// pauseBefore blocks on the step gate when the engine is in step mode. It
// reports whether the node should run.
func (e *Engine) pauseBefore(ctx context.Context, name string) bool {
	e.mu.Lock()
	if e.mode != ModeStep {
		e.mu.Unlock()
		return true
	}
	if !e.state.IsRunning {
		e.mu.Unlock()
		return false
	}
	gate := newCompletion[struct{}]()
	e.stepGate = gate
	e.state.IsPaused = true
	e.appendLogLocked("[Step] Paused at: " + name)
	e.transitionLocked(PhasePaused)
	e.unlockAndPublish()

	select {
	case <-gate.Done():
	case <-ctx.Done():
	}

	proceed := false
	e.update(func() {
		if e.stepGate == gate {
			e.stepGate = nil
		}
		e.state.IsPaused = false
		proceed = e.state.IsRunning && ctx.Err() == nil
		if proceed {
			e.transitionLocked(PhaseRunning)
		}
	})
	return proceed
}

func (e *Engine) nodeContext(node *schema.NodeDefinition, inputs map[string]any, canWait bool) *NodeContext {
	snapshot := make(map[string]any, len(inputs))
	for k, v := range inputs {
		snapshot[k] = v
	}
	e.mu.Lock()
	eventID := e.opts.EventID
	if e.state.ResponseContext != nil {
		eventID = e.state.ResponseContext.EventID
	}
	trigger := e.opts.TriggerData
	e.mu.Unlock()
	return &NodeContext{
		Workflow:    e.workflow,
		Node:        node,
		Global:      e.workflow.MergedGlobal(node),
		Inputs:      snapshot,
		TriggerData: trigger,
		EventID:     eventID,
		engine:      e,
		canWait:     canWait,
	}
}

func (e *Engine) executeNode(ctx context.Context, node *schema.NodeDefinition, inputs map[string]any) {
	start := e.now()
	e.update(func() {
		e.state.NodeResults[node.Name] = &schema.NodeExecutionResult{
			NodeName:  node.Name,
			Status:    schema.StatusRunning,
			StartTime: start,
			Logs:      []string{},
		}
		e.appendLogLocked(fmt.Sprintf("Executing node: %s (%s)", node.Name, node.Type))
	})
	e.emitNode(NodeEvent{Node: node.Name, Type: node.Type, Status: schema.StatusRunning})

	var runner Runner
	if e.runners != nil {
		runner = e.runners.Resolve(node.Type)
	}

	ctx = logging.WithNode(ctx, node.Name)
	ctx, span := e.tracer.Start(ctx, "gflow.node "+node.Name, trace.WithAttributes(
		attribute.String("gflow.workflow", e.workflow.Name),
		attribute.String("gflow.node.name", node.Name),
		attribute.String("gflow.node.type", node.Type),
	))
	out, err := e.invoke(ctx, runner, node, e.nodeContext(node, inputs, true))
	end := e.now()

	var status schema.ExecutionStatus
	var output any
	var errMsg string
	e.update(func() {
		r := e.state.NodeResults[node.Name]
		r.EndTime = &end
		switch {
		case err != nil:
			r.Status = schema.StatusError
			r.Error = errorMessage(err)
		case out == nil:
			r.Status = schema.StatusSuccess
		default:
			r.Status = out.Status
			if r.Status == "" {
				r.Status = schema.StatusSuccess
			}
			r.Inputs = out.Inputs
			r.Output = out.Output
			r.Error = out.Error
			if out.Logs != nil {
				r.Logs = out.Logs
			}
		}
		status, output, errMsg = r.Status, r.Output, r.Error
		if status == schema.StatusError {
			e.appendLogLocked(fmt.Sprintf("Node %s Error: %s", node.Name, errMsg))
		} else {
			e.appendLogLocked(fmt.Sprintf("Node %s finished: %s", node.Name, status))
		}
	})

	span.SetAttributes(attribute.String("gflow.node.status", string(status)))
	if status == schema.StatusError {
		span.SetStatus(codes.Error, errMsg)
	}
	span.End()

	if status == schema.StatusSuccess {
		mergeOutput(inputs, node.Name, output)
	}
	e.emitNode(NodeEvent{Node: node.Name, Type: node.Type, Status: status, Duration: end.Sub(start), Error: errMsg})
}

// invoke calls the runner, turning a panic into an error.
func (e *Engine) invoke(ctx context.Context, runner Runner, node *schema.NodeDefinition, nctx *NodeContext) (out *Outcome, err error) {
	if runner == nil {
		return nil, schema.NewErrorf(schema.ErrCodeRunner, "no runner for node type %q", node.Type).WithNode(node.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			logging.LogWith(ctx, e.logger).Error("runner panicked", slog.Any("panic", r))
			err = schema.NewErrorf(schema.ErrCodeRunner, "runner panic: %v", r).WithNode(node.Name)
		}
	}()
	return runner.Run(ctx, node, nctx)
}

// expand enqueues the successors of a successful node whose guards all pass.
func (e *Engine) expand(ctx context.Context, node *schema.NodeDefinition, inputs map[string]any, processed map[string]bool, queue *workQueue) {
	rules := e.workflow.Rules(node.Name)
	if len(rules) == 0 {
		return
	}
	nctx := e.nodeContext(node, inputs, false)
	for _, rule := range rules {
		if processed[rule.Node] {
			continue
		}
		if !e.guardsPass(ctx, rule, nctx) {
			e.logger.Debug("connection guard failed",
				slog.String("workflow", e.workflow.Name),
				slog.String("from", node.Name),
				slog.String("to", rule.Node))
			continue
		}
		queue.push(rule.Node)
	}
}

func (e *Engine) guardsPass(ctx context.Context, rule schema.ConnectionRule, nctx *NodeContext) bool {
	for _, guard := range rule.When {
		if !e.evaluate(ctx, guard, nctx) {
			return false
		}
	}
	return true
}

func (e *Engine) evaluate(ctx context.Context, guard any, nctx *NodeContext) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("condition evaluator panicked", slog.Any("guard", guard), slog.Any("panic", r))
			ok = false
		}
	}()
	return e.conditions.Evaluate(ctx, guard, nctx)
}

func (e *Engine) emitNode(ev NodeEvent) {
	if e.nodeHook == nil {
		return
	}
	e.safeCall("node hook", func() { e.nodeHook(ev) })
}

// errorMessage prefers the bare message of a coded error.
func errorMessage(err error) string {
	var ge *schema.GflowError
	if errors.As(err, &ge) {
		return ge.Message
	}
	return err.Error()
}
