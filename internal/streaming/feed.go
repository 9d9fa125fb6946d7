package streaming

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gw123/gflow-sub001/internal/engine"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

// Sink receives every event a Feed publishes, after the hub.
type Sink func(ctx context.Context, ev StreamEvent)

// Feed turns one engine's notifications into StreamEvents for a run.
// Engine hooks carry no context, so the feed publishes with its own.
type Feed struct {
	hub      EventHub
	runID    string
	workflow string
	ctx      context.Context
	logger   *slog.Logger
	sinks    []Sink

	mu      sync.Mutex
	waiting bool
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithSink adds a receiver called for every published event.
func WithSink(s Sink) FeedOption {
	return func(f *Feed) { f.sinks = append(f.sinks, s) }
}

// WithFeedLogger sets the logger used for publish failures.
func WithFeedLogger(l *slog.Logger) FeedOption {
	return func(f *Feed) { f.logger = l }
}

// WithFeedContext sets the context events are published with. Cancellation
// is ignored so a finished request does not silence a background run.
func WithFeedContext(ctx context.Context) FeedOption {
	return func(f *Feed) { f.ctx = context.WithoutCancel(ctx) }
}

// NewFeed creates a feed for runID. hub may be nil when only sinks are wanted.
func NewFeed(hub EventHub, runID, workflow string, opts ...FeedOption) *Feed {
	f := &Feed{
		hub:      hub,
		runID:    runID,
		workflow: workflow,
		ctx:      context.Background(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Observer returns an engine observer publishing state snapshots for runID.
func Observer(hub EventHub, runID, workflow string) engine.Observer {
	return NewFeed(hub, runID, workflow).OnState
}

// EngineOptions wires the feed into an engine. Engines hold a single node
// hook, so extra hooks are called after the feed's own.
func (f *Feed) EngineOptions(extra ...engine.NodeHook) []engine.Option {
	hooks := append([]engine.NodeHook{f.OnNode}, extra...)
	return []engine.Option{
		engine.WithObserver(f.OnState),
		engine.WithNodeHook(func(ev engine.NodeEvent) {
			for _, h := range hooks {
				if h != nil {
					h(ev)
				}
			}
		}),
		engine.WithPhaseHook(f.OnPhase),
	}
}

// Publish emits one event for the run.
func (f *Feed) Publish(eventType, node string, payload any) {
	ev := StreamEvent{
		RunID:     f.runID,
		Workflow:  f.workflow,
		EventType: eventType,
		Node:      node,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	if f.hub != nil {
		if err := f.hub.Publish(f.ctx, ev); err != nil {
			f.logger.Warn("publish stream event",
				slog.String("run_id", f.runID),
				slog.String("event", eventType),
				slog.String("error", err.Error()))
		}
	}
	for _, s := range f.sinks {
		s(f.ctx, ev)
	}
}

// OnState publishes the snapshot, and a waiting_for_input event when the run
// starts waiting.
func (f *Feed) OnState(state *schema.WorkflowExecutionState) {
	f.mu.Lock()
	started := state.WaitingForInput && !f.waiting
	f.waiting = state.WaitingForInput
	f.mu.Unlock()

	f.Publish(schema.EventState, "", state)
	if started && state.PendingInputConfig != nil {
		f.Publish(schema.EventWaitingForInput, state.PendingInputConfig.NodeName, state.PendingInputConfig)
	}
}

// OnNode publishes node_started and node_finished.
func (f *Feed) OnNode(ev engine.NodeEvent) {
	if ev.Status == schema.StatusRunning {
		f.Publish(schema.EventNodeStarted, ev.Node, map[string]any{"type": ev.Type})
		return
	}
	payload := map[string]any{
		"type":        ev.Type,
		"status":      ev.Status,
		"duration_ms": ev.Duration.Milliseconds(),
	}
	if ev.Error != "" {
		payload["error"] = ev.Error
	}
	f.Publish(schema.EventNodeFinished, ev.Node, payload)
}

// OnPhase publishes lifecycle events derived from phase transitions.
func (f *Feed) OnPhase(from, to engine.Phase) {
	payload := map[string]any{"from": from, "to": to, "status": to.RunStatus()}
	switch to {
	case engine.PhaseRunning:
		if from != engine.PhasePaused && from != engine.PhaseWaiting {
			f.Publish(schema.EventRunStarted, "", payload)
		}
	case engine.PhasePaused:
		f.Publish(schema.EventStepPaused, "", payload)
	case engine.PhaseTerminated:
		f.Publish(schema.EventTerminated, "", payload)
		f.Publish(schema.EventRunFinished, "", payload)
	case engine.PhaseCompleted, engine.PhaseFailed, engine.PhaseSuspended:
		f.Publish(schema.EventRunFinished, "", payload)
	}
}

// OnResponse publishes a response write. It matches RunOptions.OnResponse.
func (f *Feed) OnResponse(rc schema.ResponseContext) {
	f.Publish(schema.EventResponse, "", rc)
}

// OnInput publishes an accepted input submission.
func (f *Feed) OnInput(node string, data map[string]any) {
	f.Publish(schema.EventInputSubmitted, node, data)
}
