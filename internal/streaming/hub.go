package streaming

import (
	"context"
	"time"
)

// StreamEvent is a real-time event emitted during a run.
type StreamEvent struct {
	RunID     string    `json:"run_id"`
	Workflow  string    `json:"workflow"`
	EventType string    `json:"event_type"`
	Node      string    `json:"node,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	Workflow   string   `json:"workflow,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time run events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	// Subscribe returns a channel of matching events and a cancel function.
	// The channel is closed by cancel.
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
