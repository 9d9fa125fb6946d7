package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

// Mode selects continuous execution or single-stepping.
type Mode string

const (
	ModeRun  Mode = "run"
	ModeStep Mode = "step"
)

// ParseMode maps a user string onto a Mode. Anything but "step" runs.
func ParseMode(s string) Mode {
	if s == string(ModeStep) {
		return ModeStep
	}
	return ModeRun
}

// RunOptions correlates one run with its trigger.
type RunOptions struct {
	// EventID is carried unchanged into the response slot.
	EventID string
	// ResponseTimeout bounds how long a synchronous host waits for a response.
	// The engine only carries it; see runtime.Manager.Dispatch.
	ResponseTimeout time.Duration
	// TriggerData is the payload that started the run (webhook body, schedule tick).
	TriggerData map[string]any
	// OnResponse is called after every response write.
	OnResponse func(schema.ResponseContext)
}

// RunResult is the best-effort outcome of a Run call.
type RunResult struct {
	Results  map[string]*schema.NodeExecutionResult `json:"results"`
	Logs     []string                               `json:"logs"`
	Response *schema.ResponseContext                `json:"response,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver sets the notification hook.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithNodeHook sets a receiver for node start/finish events.
func WithNodeHook(h NodeHook) Option {
	return func(e *Engine) { e.nodeHook = h }
}

// WithPhaseHook adds a receiver for phase transitions.
func WithPhaseHook(h TransitionHook) Option {
	return func(e *Engine) { e.phaseHooks = append(e.phaseHooks, h) }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithInitialState seeds the engine with a prior partial state so Run can
// resume from it.
func WithInitialState(s *schema.WorkflowExecutionState) Option {
	return func(e *Engine) {
		if s != nil {
			e.state = s.Clone()
		}
	}
}

// WithTriggerTypes replaces the node types that seed traversal.
func WithTriggerTypes(types ...string) Option {
	return func(e *Engine) {
		set := make(map[string]struct{}, len(types))
		for _, t := range types {
			set[t] = struct{}{}
		}
		e.isTrigger = func(nodeType string) bool {
			_, ok := set[nodeType]
			return ok
		}
	}
}

// WithTracer sets the tracer used for per-node spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine interprets one workflow definition. It owns its execution state;
// runners reach that state only through the NodeContext they are given.
type Engine struct {
	workflow   *schema.WorkflowDefinition
	runners    RunnerResolver
	conditions ConditionEvaluator
	observer   Observer
	nodeHook   NodeHook
	phaseHooks []TransitionHook
	isTrigger  func(string) bool
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time

	// mu guards everything below.
	mu         sync.Mutex
	state      *schema.WorkflowExecutionState
	phases     *phaseMachine
	mode       Mode
	opts       RunOptions
	active     bool // a traversal loop is live
	stopped    bool // terminated or cancelled during this run
	stopCh     chan struct{}
	stopClosed bool
	stepGate   *completion[struct{}]
	inputGate  *completion[map[string]any]
}

// New creates an engine for def. A nil conditions evaluator accepts only
// literal guards.
func New(def *schema.WorkflowDefinition, runners RunnerResolver, conditions ConditionEvaluator, opts ...Option) *Engine {
	if def == nil {
		def = &schema.WorkflowDefinition{}
	}
	if conditions == nil {
		conditions = LiteralConditions
	}
	e := &Engine{
		workflow:   def,
		runners:    runners,
		conditions: conditions,
		isTrigger:  schema.IsTriggerType,
		logger:     slog.Default(),
		tracer:     otel.Tracer("github.com/gw123/gflow-sub001/internal/engine"),
		now:        time.Now,
		state:      schema.NewExecutionState(),
		phases:     newPhaseMachine(),
		mode:       ModeRun,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.state.NodeResults == nil {
		e.state.NodeResults = map[string]*schema.NodeExecutionResult{}
	}
	return e
}

// Workflow returns the definition the engine interprets.
func (e *Engine) Workflow() *schema.WorkflowDefinition {
	return e.workflow
}

// State returns a snapshot of the execution state.
func (e *Engine) State() *schema.WorkflowExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Phase returns the current lifecycle phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phases.current
}

// Mode returns the current run mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Run drives the traversal until the queue drains, the run is terminated or
// ctx ends. It blocks for the whole run, including step pauses and human
// input waits; control calls come from other goroutines.
//
// A Run issued while another Run is live does nothing and reports
// ErrCodeAlreadyRunning. A Run on a state left paused or waiting for input
// resumes it instead of starting fresh.
func (e *Engine) Run(ctx context.Context, mode Mode, opts RunOptions) (res *RunResult, err error) {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return e.result(), schema.NewErrorf(schema.ErrCodeAlreadyRunning, "workflow %s is already running", e.workflow.Name)
	}
	e.active = true
	e.stopped = false
	e.stopCh = make(chan struct{})
	e.stopClosed = false
	e.mode = mode
	e.opts = opts

	resuming := e.state.IsPaused || e.state.WaitingForInput
	if !resuming {
		e.state.NodeResults = map[string]*schema.NodeExecutionResult{}
		e.state.Logs = []string{}
		e.state.ResponseContext = schema.NewResponseContext(opts.EventID)
	} else if e.state.ResponseContext == nil {
		e.state.ResponseContext = schema.NewResponseContext(opts.EventID)
	}
	e.state.IsRunning = true
	e.state.IsPaused = false
	e.state.WaitingForInput = false
	e.state.PendingInputConfig = nil
	e.transitionLocked(PhaseRunning)
	if resuming {
		e.appendLogLocked("Resuming execution...")
	} else {
		e.appendLogLocked(fmt.Sprintf("Starting execution in %s mode...", mode))
	}
	e.unlockAndPublish()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("critical engine fault",
				slog.String("workflow", e.workflow.Name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			e.update(func() {
				e.appendLogLocked(fmt.Sprintf("Critical error: %v", r))
				e.state.IsRunning = false
				e.state.IsPaused = false
				e.state.WaitingForInput = false
				e.state.PendingInputConfig = nil
				e.stepGate = nil
				e.inputGate = nil
				e.active = false
				e.transitionLocked(PhaseFailed)
			})
			res = e.result()
			err = schema.NewErrorf(schema.ErrCodeEngineFault, "engine fault: %v", r)
		}
	}()

	e.traverse(ctx)
	e.finish()
	return e.result(), nil
}

func (e *Engine) finish() {
	e.update(func() {
		e.active = false
		if e.stopped {
			e.appendLogLocked("Execution stopped.")
		} else {
			e.appendLogLocked("Workflow execution finished.")
		}
		if e.state.WaitingForInput {
			e.transitionLocked(PhaseSuspended)
			return
		}
		e.state.IsRunning = false
		e.state.IsPaused = false
		if !e.stopped {
			e.transitionLocked(PhaseCompleted)
		}
	})
}

// AdvanceStep releases exactly one pending step pause.
func (e *Engine) AdvanceStep() error {
	e.mu.Lock()
	gate := e.stepGate
	if gate == nil {
		e.mu.Unlock()
		return schema.NewError(schema.ErrCodeInvalidTransition, "no step pause is pending")
	}
	e.stepGate = nil
	e.mu.Unlock()
	return gate.fulfill(struct{}{})
}

// Resume switches to continuous mode and releases a pending step pause.
func (e *Engine) Resume() error {
	e.mu.Lock()
	e.mode = ModeRun
	gate := e.stepGate
	e.stepGate = nil
	e.mu.Unlock()
	if gate == nil {
		return nil
	}
	return gate.fulfill(struct{}{})
}

// SubmitInput hands data to the runner blocked in WaitForInput.
func (e *Engine) SubmitInput(data map[string]any) error {
	e.mu.Lock()
	gate := e.inputGate
	if gate == nil {
		e.mu.Unlock()
		return schema.NewError(schema.ErrCodeInvalidTransition, "workflow is not waiting for input")
	}
	e.inputGate = nil
	e.state.WaitingForInput = false
	e.state.PendingInputConfig = nil
	e.appendLogLocked("Input received, continuing...")
	e.transitionLocked(PhaseRunning)
	e.unlockAndPublish()
	return gate.fulfill(data)
}

// Terminate stops dispatching new nodes. A pending step pause is released and
// a pending input wait fails; a runner that is already executing is awaited.
func (e *Engine) Terminate() error {
	var gate *completion[struct{}]
	e.update(func() {
		e.state.IsRunning = false
		e.stopped = true
		if e.stopCh != nil && !e.stopClosed {
			close(e.stopCh)
			e.stopClosed = true
		}
		gate = e.stepGate
		e.stepGate = nil
		if !e.active {
			e.state.IsPaused = false
			e.state.WaitingForInput = false
			e.state.PendingInputConfig = nil
		}
		e.appendLogLocked("Execution terminated by user.")
		e.transitionLocked(PhaseTerminated)
	})
	if gate != nil {
		gate.mustFulfill(struct{}{})
	}
	return nil
}

func (e *Engine) waitForInput(ctx context.Context, nodeName string, cfg schema.PendingInputConfig) (map[string]any, error) {
	e.mu.Lock()
	if !e.state.IsRunning {
		e.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeTerminated, "workflow is not running").WithNode(nodeName)
	}
	if e.inputGate != nil {
		e.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeInvalidTransition, "already waiting for input").WithNode(nodeName)
	}
	gate := newCompletion[map[string]any]()
	e.inputGate = gate
	cfg.NodeName = nodeName
	e.state.WaitingForInput = true
	e.state.PendingInputConfig = &cfg
	e.appendLogLocked(fmt.Sprintf("Waiting for input at node: %s", nodeName))
	e.transitionLocked(PhaseWaiting)
	stop := e.stopCh
	e.unlockAndPublish()

	select {
	case <-gate.Done():
		return gate.result(), nil
	case <-stop:
		e.update(func() {
			if e.inputGate == gate {
				e.inputGate = nil
			}
			e.state.WaitingForInput = false
			e.state.PendingInputConfig = nil
		})
		return nil, schema.NewError(schema.ErrCodeTerminated, "terminated while waiting for input").WithNode(nodeName)
	case <-ctx.Done():
		// The waiting flags stay set so a later Run resumes at this node.
		e.mu.Lock()
		if e.inputGate == gate {
			e.inputGate = nil
		}
		e.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (e *Engine) setResponse(body any, statusCode int, headers map[string]string) schema.ResponseContext {
	if statusCode == 0 {
		statusCode = 200
	}
	hdrs := make(map[string]string, len(headers))
	for k, v := range headers {
		hdrs[k] = v
	}
	var rc schema.ResponseContext
	var cb func(schema.ResponseContext)
	e.update(func() {
		eventID := e.opts.EventID
		if e.state.ResponseContext != nil {
			eventID = e.state.ResponseContext.EventID
		}
		e.state.ResponseContext = &schema.ResponseContext{
			Body:        body,
			StatusCode:  statusCode,
			Headers:     hdrs,
			HasResponse: true,
			EventID:     eventID,
		}
		rc = *e.state.ResponseContext.Clone()
		cb = e.opts.OnResponse
	})
	if cb != nil {
		e.safeCall("response callback", func() { cb(rc) })
	}
	return rc
}

func (e *Engine) nodeLog(node string, own bool, msg string) {
	e.update(func() {
		if r := e.state.NodeResults[node]; own && r != nil {
			r.Logs = append(r.Logs, msg)
		}
		if node != "" {
			msg = fmt.Sprintf("[%s] %s", node, msg)
		}
		e.appendLogLocked(msg)
	})
}

// result builds the RunResult from the current state.
func (e *Engine) result() *RunResult {
	s := e.State()
	return &RunResult{Results: s.NodeResults, Logs: s.Logs, Response: s.ResponseContext}
}

func (e *Engine) appendLogLocked(msg string) {
	e.state.Logs = append(e.state.Logs, fmt.Sprintf("[%s] %s", e.now().Format("15:04:05"), msg))
	e.logger.Debug(msg, slog.String("workflow", e.workflow.Name))
}

func (e *Engine) transitionLocked(to Phase) {
	if err := e.phases.transition(to); err != nil {
		e.logger.Warn("phase transition rejected", slog.String("workflow", e.workflow.Name), slog.String("error", err.Error()))
	}
}

// update applies fn under the lock and publishes the result.
func (e *Engine) update(fn func()) {
	e.mu.Lock()
	fn()
	e.unlockAndPublish()
}

// unlockAndPublish releases e.mu, then notifies phase hooks and the observer.
func (e *Engine) unlockAndPublish() {
	var snap *schema.WorkflowExecutionState
	if e.observer != nil {
		snap = e.state.Clone()
	}
	moves := e.phases.drain()
	e.mu.Unlock()

	for _, m := range moves {
		for _, h := range e.phaseHooks {
			e.safeCall("phase hook", func() { h(m.from, m.to) })
		}
	}
	if snap != nil {
		e.safeCall("observer", func() { e.observer(snap) })
	}
}

func (e *Engine) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn(what+" panicked", slog.String("workflow", e.workflow.Name), slog.Any("panic", r))
		}
	}()
	fn()
}
