package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gw123/gflow-sub001/internal/streaming"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

type sent struct {
	session string
	method  string
	params  map[string]any
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSender) SendNotificationToSpecificClient(sessionID, method string, params map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{session: sessionID, method: method, params: params})
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestNotifier_SkipsUnwatchedRuns(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, NewSessionRegistry(), nil)

	require.NoError(t, n.Notify(streaming.StreamEvent{RunID: "r1", EventType: schema.EventWaitingForInput}))
	assert.Zero(t, sender.count())
}

func TestNotifier_SendsAndForgetsFinishedRuns(t *testing.T) {
	sender := &fakeSender{}
	sessions := NewSessionRegistry()
	sessions.Register("r1", "s1")
	n := NewNotifier(sender, sessions, nil)

	require.NoError(t, n.Notify(streaming.StreamEvent{RunID: "r1", Workflow: "wf", EventType: schema.EventStepPaused, Node: "Ask"}))
	require.Equal(t, 1, sender.count())
	got := sender.sent[0]
	assert.Equal(t, "s1", got.session)
	assert.Equal(t, "notifications/message", got.method)
	data := got.params["data"].(map[string]any)
	assert.Equal(t, "r1", data["run_id"])
	assert.Equal(t, "Ask", data["node"])

	require.NoError(t, n.Notify(streaming.StreamEvent{RunID: "r1", EventType: schema.EventRunFinished}))
	assert.Equal(t, 2, sender.count())
	_, ok := sessions.SessionFor("r1")
	assert.False(t, ok)
}

func TestNotifier_DropsGoneSessions(t *testing.T) {
	sender := &fakeSender{err: server.ErrSessionNotFound}
	sessions := NewSessionRegistry()
	sessions.Register("r1", "s1")
	sessions.Register("r2", "s1")
	n := NewNotifier(sender, sessions, nil)

	require.NoError(t, n.Notify(streaming.StreamEvent{RunID: "r1", EventType: schema.EventWaitingForInput}))
	assert.Zero(t, sessions.Len())
}

func TestNotifier_WatchForwardsHubEvents(t *testing.T) {
	hub := streaming.NewMemoryHub()
	sender := &fakeSender{}
	sessions := NewSessionRegistry()
	sessions.Register("r1", "s1")
	n := NewNotifier(sender, sessions, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Watch(ctx, hub) }()

	require.Eventually(t, func() bool {
		_ = hub.Publish(context.Background(), streaming.StreamEvent{RunID: "r1", EventType: schema.EventWaitingForInput})
		return sender.count() > 0
	}, 2*time.Second, 10*time.Millisecond)

	_ = hub.Publish(context.Background(), streaming.StreamEvent{RunID: "r1", EventType: schema.EventNodeStarted})

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
	for _, s := range sender.sent {
		assert.NotEqual(t, schema.EventNodeStarted, s.params["data"].(map[string]any)["event"])
	}
}
