package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/gw123/gflow-sub001/internal/streaming"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

// notifyEvents are the run events worth pushing to an agent: the ones that
// need its attention or end the run.
var notifyEvents = []string{
	schema.EventStepPaused,
	schema.EventWaitingForInput,
	schema.EventRunFinished,
}

// ClientSender delivers a notification to one MCP session. Satisfied by
// server.MCPServer.
type ClientSender interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

// Notifier pushes run events to the session that owns the run.
type Notifier struct {
	sender   ClientSender
	sessions *SessionRegistry
	logger   *slog.Logger
}

// NewNotifier creates a notifier that pushes through sender.
func NewNotifier(sender ClientSender, sessions *SessionRegistry, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sender: sender, sessions: sessions, logger: logger}
}

// Notify sends ev to the session of its run.
// Best-effort: returns nil if no session watches the run.
func (n *Notifier) Notify(ev streaming.StreamEvent) error {
	sessionID, ok := n.sessions.SessionFor(ev.RunID)
	if !ok {
		return nil
	}
	if ev.EventType == schema.EventRunFinished {
		defer n.sessions.Forget(ev.RunID)
	}
	err := n.sender.SendNotificationToSpecificClient(sessionID, "notifications/message", map[string]any{
		"level":  "info",
		"logger": "gflow",
		"data": map[string]any{
			"run_id":   ev.RunID,
			"workflow": ev.Workflow,
			"event":    ev.EventType,
			"node":     ev.Node,
			"payload":  ev.Payload,
		},
	})
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session went away between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// Watch forwards hub events until ctx ends.
func (n *Notifier) Watch(ctx context.Context, hub streaming.EventHub) error {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{EventTypes: notifyEvents})
	if err != nil {
		return err
	}
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := n.Notify(ev); err != nil {
				n.logger.Debug("notify session", slog.String("run_id", ev.RunID), slog.String("error", err.Error()))
			}
		}
	}
}
