// Package runtime hosts live workflow runs: it builds engines, bounds how
// many execute at once, persists their records and event logs, and routes
// control calls to the right engine.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gw123/gflow-sub001/internal/engine"
	"github.com/gw123/gflow-sub001/internal/logging"
	"github.com/gw123/gflow-sub001/internal/metrics"
	"github.com/gw123/gflow-sub001/internal/runners"
	"github.com/gw123/gflow-sub001/internal/store"
	"github.com/gw123/gflow-sub001/internal/streaming"
	"github.com/gw123/gflow-sub001/internal/validation"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

// DefaultResponseTimeout bounds how long Dispatch waits for a response.
const DefaultResponseTimeout = 30 * time.Second

const defaultRetainFinished = 256

// Options configures a Manager. Runners is required; a nil Store disables
// persistence and named workflow lookup.
type Options struct {
	Store           store.Store
	Runners         *runners.Registry
	Validator       validation.Validator
	Hub             streaming.EventHub
	Metrics         *metrics.Metrics
	PoolSize        int
	ResponseTimeout time.Duration
	// RetainFinished is how many finished runs stay addressable in memory.
	RetainFinished int
	Logger         *slog.Logger
}

// StartRequest describes a run to start. Definition wins over Workflow.
type StartRequest struct {
	Workflow    string
	Definition  *schema.WorkflowDefinition
	Mode        engine.Mode
	Trigger     string
	TriggerData map[string]any
	EventID     string
}

// DispatchResult is what a synchronous trigger observed.
type DispatchResult struct {
	Run      *Run
	Response *schema.ResponseContext
	Finished bool
	TimedOut bool
}

// Manager owns the live runs of one process.
type Manager struct {
	opts   Options
	pool   *WorkerPool
	logger *slog.Logger

	mu   sync.RWMutex
	runs map[string]*Run
}

// NewManager creates a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Runners == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "runtime: a runner registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = DefaultResponseTimeout
	}
	if opts.RetainFinished <= 0 {
		opts.RetainFinished = defaultRetainFinished
	}
	return &Manager{
		opts:   opts,
		pool:   NewWorkerPool(opts.PoolSize),
		logger: opts.Logger,
		runs:   make(map[string]*Run),
	}, nil
}

// PoolStats returns the worker pool counters.
func (m *Manager) PoolStats() PoolStats {
	return m.pool.Stats()
}

// Start launches a run in the background and returns once it is accepted.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Run, error) {
	def, err := m.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	if m.opts.Validator != nil {
		if err := m.opts.Validator.ValidateDefinition(def); err != nil {
			return nil, err
		}
	}
	if req.Mode == "" {
		req.Mode = engine.ModeRun
	}
	if req.Trigger == "" {
		req.Trigger = schema.TriggerManual
	}
	if req.EventID == "" {
		req.EventID = uuid.NewString()
	}

	run := newRun(uuid.NewString(), def.Name, req.EventID, req.Trigger, req.Mode)
	if m.opts.Store != nil {
		rec := &store.ExecutionRecord{
			ID:        run.ID,
			Workflow:  run.Workflow,
			EventID:   run.EventID,
			Trigger:   run.Trigger,
			Mode:      string(run.Mode),
			Status:    schema.RunStatusRunning,
			StartedAt: run.StartedAt,
		}
		if err := m.opts.Store.CreateExecution(ctx, rec); err != nil {
			return nil, err
		}
	}
	if err := m.launch(ctx, run, def, nil, req.TriggerData); err != nil {
		return nil, err
	}
	return run, nil
}

// Execute starts a run and waits until it stops. A run suspended waiting for
// input also counts as stopped. ctx ending returns early; the run continues.
func (m *Manager) Execute(ctx context.Context, req StartRequest) (*Run, error) {
	run, err := m.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.Done():
		_, runErr := run.Result()
		return run, runErr
	case <-ctx.Done():
		return run, ctx.Err()
	}
}

// Dispatch starts a run for a synchronous trigger and waits for the run to
// stop or the timeout to fire. The response is read from the final state, so
// the last response node wins. On timeout a response written so far is still
// returned. A non-positive timeout uses the configured default.
func (m *Manager) Dispatch(ctx context.Context, req StartRequest, timeout time.Duration) (*DispatchResult, error) {
	if timeout <= 0 {
		timeout = m.opts.ResponseTimeout
	}
	run, err := m.Start(ctx, req)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	res := &DispatchResult{Run: run}
	select {
	case <-run.Done():
		res.Finished = true
	case <-timer.C:
		res.TimedOut = true
	case <-ctx.Done():
		return res, ctx.Err()
	}
	res.Response = run.Response()
	if res.Response != nil {
		res.TimedOut = false
	}
	return res, nil
}

// Get returns a live run, or the persisted record of a past one.
func (m *Manager) Get(ctx context.Context, id string) (RunInfo, error) {
	if run := m.live(id); run != nil {
		return run.Info(), nil
	}
	if m.opts.Store == nil {
		return RunInfo{}, schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", id)
	}
	rec, err := m.opts.Store.GetExecution(ctx, id)
	if err != nil {
		return RunInfo{}, err
	}
	return recordInfo(rec), nil
}

// List returns the runs held in memory, newest first. An empty workflow
// matches all.
func (m *Manager) List(workflow string) []RunInfo {
	m.mu.RLock()
	runs := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		if workflow == "" || r.Workflow == workflow {
			runs = append(runs, r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	out := make([]RunInfo, len(runs))
	for i, r := range runs {
		out[i] = r.Info()
	}
	return out
}

// SubmitInput validates data against the pending input fields and hands it
// to the waiting run.
func (m *Manager) SubmitInput(ctx context.Context, id string, data map[string]any) error {
	run, err := m.active(id)
	if err != nil {
		return err
	}
	st := run.engine.State()
	if !st.WaitingForInput || st.PendingInputConfig == nil {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "run %s is not waiting for input", id)
	}
	if m.opts.Validator != nil {
		if err := m.opts.Validator.ValidateInput(st.PendingInputConfig, data); err != nil {
			return err
		}
	}
	if err := run.engine.SubmitInput(data); err != nil {
		return err
	}
	run.feed.OnInput(st.PendingInputConfig.NodeName, data)
	logging.LogWith(ctx, m.logger).Info("input submitted",
		slog.String("run_id", id),
		slog.String("node", st.PendingInputConfig.NodeName))
	return nil
}

// Step releases one pending step pause.
func (m *Manager) Step(_ context.Context, id string) error {
	run, err := m.active(id)
	if err != nil {
		return err
	}
	return run.engine.AdvanceStep()
}

// Resume switches a stepped run to continuous mode.
func (m *Manager) Resume(_ context.Context, id string) error {
	run, err := m.active(id)
	if err != nil {
		return err
	}
	return run.engine.Resume()
}

// Terminate stops a live run. A persisted run that is not finished, such as
// one suspended by a restart, is marked terminated in the store.
func (m *Manager) Terminate(ctx context.Context, id string) error {
	if run := m.live(id); run != nil && !run.finished() {
		return run.engine.Terminate()
	}
	if m.opts.Store == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", id)
	}
	rec, err := m.opts.Store.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.Finished() {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "run %s already %s", id, rec.Status)
	}
	def, err := m.resolve(ctx, StartRequest{Workflow: rec.Workflow})
	if err != nil {
		return err
	}

	feed := m.newFeed(ctx, id, def.Name)
	eng := engine.New(def, m.opts.Runners, m.opts.Runners.Conditions(),
		append(feed.EngineOptions(), engine.WithInitialState(rec.State), engine.WithLogger(m.logger))...)
	if err := eng.Terminate(); err != nil {
		return err
	}
	status := schema.RunStatusTerminated
	now := time.Now().UTC()
	return m.opts.Store.UpdateExecution(ctx, id, store.ExecutionUpdate{
		Status:     &status,
		State:      eng.State(),
		FinishedAt: &now,
	})
}

// ResumeExecution continues a persisted run that was paused, waiting for
// input, or suspended. The run keeps its id; nodes that already succeeded
// are not executed again.
func (m *Manager) ResumeExecution(ctx context.Context, id string) (*Run, error) {
	if run := m.live(id); run != nil && !run.finished() {
		return nil, schema.NewErrorf(schema.ErrCodeAlreadyRunning, "run %s is still live", id)
	}
	if m.opts.Store == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", id)
	}
	rec, err := m.opts.Store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.Finished() || rec.State == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition, "run %s is %s and cannot be resumed", id, rec.Status)
	}
	if !rec.State.IsPaused && !rec.State.WaitingForInput {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition, "run %s has no paused or waiting state", id)
	}
	def, err := m.resolve(ctx, StartRequest{Workflow: rec.Workflow})
	if err != nil {
		return nil, err
	}

	mode := engine.ParseMode(rec.Mode)
	run := newRun(rec.ID, rec.Workflow, rec.EventID, rec.Trigger, mode)
	run.StartedAt = rec.StartedAt
	status := schema.RunStatusRunning
	if err := m.opts.Store.UpdateExecution(ctx, id, store.ExecutionUpdate{Status: &status}); err != nil {
		return nil, err
	}
	if err := m.launch(ctx, run, def, rec.State, nil); err != nil {
		return nil, err
	}
	return run, nil
}

// Shutdown stops accepting runs and waits for live ones. When ctx ends first,
// runs waiting for input are suspended and persisted so they can be resumed.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.pool.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		m.logger.Warn("shutdown deadline reached, live runs were cancelled")
	}
	return err
}

func (m *Manager) resolve(ctx context.Context, req StartRequest) (*schema.WorkflowDefinition, error) {
	if req.Definition != nil {
		return req.Definition, nil
	}
	if req.Workflow == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "a workflow name or definition is required")
	}
	if m.opts.Store == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %s not found", req.Workflow)
	}
	wf, err := m.opts.Store.GetWorkflow(ctx, req.Workflow)
	if err != nil {
		return nil, err
	}
	if wf.Definition.Name == "" {
		wf.Definition.Name = wf.Name
	}
	return wf.Definition, nil
}

func (m *Manager) newFeed(ctx context.Context, runID, workflow string) *streaming.Feed {
	return streaming.NewFeed(m.opts.Hub, runID, workflow,
		streaming.WithFeedContext(ctx),
		streaming.WithFeedLogger(m.logger),
		streaming.WithSink(m.persistEvent))
}

// launch wires an engine for run and hands it to the pool.
func (m *Manager) launch(ctx context.Context, run *Run, def *schema.WorkflowDefinition, initial *schema.WorkflowExecutionState, triggerData map[string]any) error {
	run.feed = m.newFeed(ctx, run.ID, def.Name)
	opts := append(run.feed.EngineOptions(m.opts.Metrics.NodeHook()),
		engine.WithLogger(m.logger),
		engine.WithPhaseHook(m.checkpoint(run)),
	)
	if initial != nil {
		opts = append(opts, engine.WithInitialState(initial))
	}
	run.engine = engine.New(def, m.opts.Runners, m.opts.Runners.Conditions(), opts...)

	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()
	m.opts.Metrics.RunStarted()

	runOpts := engine.RunOptions{
		EventID:         run.EventID,
		ResponseTimeout: m.opts.ResponseTimeout,
		TriggerData:     triggerData,
		OnResponse:      run.feed.OnResponse,
	}
	err := m.pool.Submit(ctx, func(poolCtx context.Context) error {
		runCtx := logging.WithRunID(logging.WithWorkflow(poolCtx, def.Name), run.ID)
		res, err := run.engine.Run(runCtx, run.Mode, runOpts)
		m.finish(run, res, err)
		return err
	})
	if err != nil {
		m.mu.Lock()
		delete(m.runs, run.ID)
		m.mu.Unlock()
		m.opts.Metrics.RunFinished(schema.RunStatusFailed)
		m.persistEnd(run.ID, schema.RunStatusFailed, nil, err)
		return err
	}
	logging.LogWith(ctx, m.logger).Info("run started",
		slog.String("run_id", run.ID),
		slog.String("workflow", def.Name),
		slog.String("mode", string(run.Mode)),
		slog.String("trigger", run.Trigger))
	return nil
}

// checkpoint persists the state whenever a run stops to wait, so a restart
// can resume it.
func (m *Manager) checkpoint(run *Run) engine.TransitionHook {
	return func(from, to engine.Phase) {
		if m.opts.Store == nil {
			return
		}
		status := to.RunStatus()
		update := store.ExecutionUpdate{Status: &status}
		switch {
		case to == engine.PhasePaused || to == engine.PhaseWaiting:
			update.State = run.engine.State()
		case to == engine.PhaseRunning && (from == engine.PhasePaused || from == engine.PhaseWaiting):
		default:
			return
		}
		err := m.opts.Store.UpdateExecution(context.Background(), run.ID, update)
		if err != nil {
			m.logger.Warn("checkpoint run", slog.String("run_id", run.ID), slog.String("error", err.Error()))
		}
	}
}

func (m *Manager) finish(run *Run, res *engine.RunResult, err error) {
	status := run.engine.Phase().RunStatus()
	m.persistEnd(run.ID, status, run.engine.State(), err)
	m.opts.Metrics.RunFinished(status)
	m.evict(run)
	run.complete(res, err)

	attrs := []any{slog.String("run_id", run.ID), slog.String("workflow", run.Workflow), slog.String("status", string(status))}
	if err != nil {
		m.logger.Error("run failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	m.logger.Info("run stopped", attrs...)
}

func (m *Manager) persistEnd(id string, status schema.RunStatus, state *schema.WorkflowExecutionState, runErr error) {
	if m.opts.Store == nil {
		return
	}
	update := store.ExecutionUpdate{Status: &status, State: state}
	if status.Finished() {
		now := time.Now().UTC()
		update.FinishedAt = &now
	}
	if runErr != nil {
		msg := runErr.Error()
		update.Error = &msg
	}
	if err := m.opts.Store.UpdateExecution(context.Background(), id, update); err != nil {
		m.logger.Warn("persist run", slog.String("run_id", id), slog.String("error", err.Error()))
	}
}

// persistEvent appends every non-snapshot event to the run's event log.
func (m *Manager) persistEvent(ctx context.Context, ev streaming.StreamEvent) {
	if m.opts.Store == nil || ev.EventType == schema.EventState {
		return
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		m.logger.Warn("encode run event", slog.String("run_id", ev.RunID), slog.String("error", err.Error()))
		return
	}
	err = m.opts.Store.AppendRunEvent(ctx, &store.RunEvent{
		RunID:     ev.RunID,
		Type:      ev.EventType,
		Node:      ev.Node,
		Payload:   payload,
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		m.logger.Warn("append run event", slog.String("run_id", ev.RunID), slog.String("error", err.Error()))
	}
}

// evict drops the oldest finished runs beyond the retention limit. current
// is about to finish and counts as finished.
func (m *Manager) evict(current *Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var done []*Run
	for _, r := range m.runs {
		if r == current || r.finished() {
			done = append(done, r)
		}
	}
	if len(done) <= m.opts.RetainFinished {
		return
	}
	sort.Slice(done, func(i, j int) bool { return done[i].StartedAt.Before(done[j].StartedAt) })
	for _, r := range done[:len(done)-m.opts.RetainFinished] {
		delete(m.runs, r.ID)
	}
}

func (m *Manager) live(id string) *Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runs[id]
}

func (m *Manager) active(id string) (*Run, error) {
	run := m.live(id)
	if run == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", id)
	}
	if run.finished() {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition, "run %s is no longer live", id)
	}
	return run, nil
}

func recordInfo(rec *store.ExecutionRecord) RunInfo {
	return RunInfo{
		ID:         rec.ID,
		Workflow:   rec.Workflow,
		EventID:    rec.EventID,
		Trigger:    rec.Trigger,
		Mode:       rec.Mode,
		Status:     rec.Status,
		Error:      rec.Error,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
		State:      rec.State,
	}
}

// Launch starts a scheduled run of a stored workflow. It satisfies
// scheduler.Launcher.
func (m *Manager) Launch(ctx context.Context, workflow, node string) error {
	_, err := m.Start(ctx, StartRequest{
		Workflow: workflow,
		Trigger:  schema.TriggerSchedule,
		TriggerData: map[string]any{
			"timer":        node,
			"scheduled_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	return err
}
