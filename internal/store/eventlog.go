package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

// AppendRunEvent appends ev with the next per-run sequence number.
func (s *LibSQLStore) AppendRunEvent(ctx context.Context, ev *RunEvent) error {
	if ev.RunID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run event requires a run id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err, "begin append")
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, ev.RunID,
	).Scan(&seq); err != nil {
		return storeErr(err, "next sequence")
	}
	ev.Sequence = seq
	ev.Timestamp = timeOr(ev.Timestamp, nowUTC())

	var payload any
	if len(ev.Payload) > 0 {
		payload = string(ev.Payload)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, sequence, type, node, payload, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.RunID, seq, ev.Type, nullStr(ev.Node), payload, formatTime(ev.Timestamp),
	); err != nil {
		return storeErr(err, "insert run event")
	}
	return storeErr(tx.Commit(), "commit run event")
}

// ListRunEvents returns events of a run with sequence > since, oldest first.
func (s *LibSQLStore) ListRunEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, sequence, type, node, payload, ts FROM run_events
		 WHERE run_id = ? AND sequence > ? ORDER BY sequence`, runID, since)
	if err != nil {
		return nil, storeErr(err, "list run events")
	}
	defer rows.Close()

	var events []*RunEvent
	for rows.Next() {
		ev := &RunEvent{}
		var node, payload *string
		var ts string
		if err := rows.Scan(&ev.RunID, &ev.Sequence, &ev.Type, &node, &payload, &ts); err != nil {
			return nil, err
		}
		if node != nil {
			ev.Node = *node
		}
		if payload != nil && *payload != "" {
			ev.Payload = json.RawMessage(*payload)
		}
		ev.Timestamp = parseTime(ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// NodeTimeline summarises one node's events within a run.
type NodeTimeline struct {
	Node       string                 `json:"node"`
	Status     schema.ExecutionStatus `json:"status"`
	Executions int                    `json:"executions"`
	DurationMs int64                  `json:"duration_ms"`
	Error      string                 `json:"error,omitempty"`
}

// nodeFinishedPayload is the subset of a node_finished payload read on replay.
type nodeFinishedPayload struct {
	Status     schema.ExecutionStatus `json:"status"`
	DurationMs int64                  `json:"duration_ms"`
	Error      string                 `json:"error,omitempty"`
}

// ReplayRunEvents folds a run's event log into per-node timelines. The log
// must be contiguous from sequence 1.
func ReplayRunEvents(events []*RunEvent) (map[string]*NodeTimeline, error) {
	out := make(map[string]*NodeTimeline)
	for i, ev := range events {
		if want := int64(i + 1); ev.Sequence != want {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", ev.RunID, want, ev.Sequence)
		}
		if ev.Node == "" {
			continue
		}
		tl, ok := out[ev.Node]
		if !ok {
			tl = &NodeTimeline{Node: ev.Node, Status: schema.StatusPending}
			out[ev.Node] = tl
		}
		switch ev.Type {
		case schema.EventNodeStarted:
			tl.Status = schema.StatusRunning
			tl.Executions++
		case schema.EventNodeFinished:
			var p nodeFinishedPayload
			if len(ev.Payload) > 0 {
				if err := json.Unmarshal(ev.Payload, &p); err != nil {
					return nil, fmt.Errorf("decode %s payload at sequence %d: %w", ev.Type, ev.Sequence, err)
				}
			}
			if p.Status != "" {
				tl.Status = p.Status
			}
			tl.DurationMs += p.DurationMs
			tl.Error = p.Error
		}
	}
	return out, nil
}
