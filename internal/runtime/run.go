package runtime

import (
	"sync"
	"time"

	"github.com/gw123/gflow-sub001/internal/engine"
	"github.com/gw123/gflow-sub001/internal/streaming"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

// Run is one live execution owned by a Manager.
type Run struct {
	ID        string
	Workflow  string
	EventID   string
	Trigger   string
	Mode      engine.Mode
	StartedAt time.Time

	engine *engine.Engine
	feed   *streaming.Feed

	done chan struct{}

	mu         sync.Mutex
	result     *engine.RunResult
	err        error
	finishedAt time.Time
}

func newRun(id, workflow, eventID, trigger string, mode engine.Mode) *Run {
	return &Run{
		ID:        id,
		Workflow:  workflow,
		EventID:   eventID,
		Trigger:   trigger,
		Mode:      mode,
		StartedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
}

// Engine returns the engine driving the run.
func (r *Run) Engine() *engine.Engine { return r.engine }

// Done is closed when the engine's Run call returns, whether the run
// finished or was suspended.
func (r *Run) Done() <-chan struct{} { return r.done }

// Result returns the engine result once Done is closed.
func (r *Run) Result() (*engine.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

// Response returns the captured response, or nil when none was written.
func (r *Run) Response() *schema.ResponseContext {
	rc := r.engine.State().ResponseContext
	if rc == nil || !rc.HasResponse {
		return nil
	}
	return rc
}

func (r *Run) complete(res *engine.RunResult, err error) {
	r.mu.Lock()
	r.result = res
	r.err = err
	r.finishedAt = time.Now().UTC()
	r.mu.Unlock()
	close(r.done)
}

func (r *Run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Info returns a snapshot of the run.
func (r *Run) Info() RunInfo {
	info := RunInfo{
		ID:        r.ID,
		Workflow:  r.Workflow,
		EventID:   r.EventID,
		Trigger:   r.Trigger,
		Mode:      string(r.Mode),
		Phase:     string(r.engine.Phase()),
		Status:    r.engine.Phase().RunStatus(),
		StartedAt: r.StartedAt,
		State:     r.engine.State(),
		Live:      !r.finished(),
	}
	r.mu.Lock()
	if !r.finishedAt.IsZero() {
		at := r.finishedAt
		info.FinishedAt = &at
	}
	if r.err != nil {
		info.Error = r.err.Error()
	}
	r.mu.Unlock()
	return info
}

// RunInfo is the externally visible snapshot of a run, live or persisted.
type RunInfo struct {
	ID         string                         `json:"id"`
	Workflow   string                         `json:"workflow"`
	EventID    string                         `json:"event_id"`
	Trigger    string                         `json:"trigger"`
	Mode       string                         `json:"mode"`
	Phase      string                         `json:"phase,omitempty"`
	Status     schema.RunStatus               `json:"status"`
	Live       bool                           `json:"live"`
	Error      string                         `json:"error,omitempty"`
	StartedAt  time.Time                      `json:"started_at"`
	FinishedAt *time.Time                     `json:"finished_at,omitempty"`
	State      *schema.WorkflowExecutionState `json:"state,omitempty"`
}
