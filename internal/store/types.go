package store

import (
	"encoding/json"
	"time"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

// StoredWorkflow is a named workflow definition. Only active workflows are
// picked up by the scheduler.
type StoredWorkflow struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	Definition  *schema.WorkflowDefinition `json:"definition"`
	Status      schema.WorkflowStatus      `json:"status"`
	CreatedAt   time.Time                  `json:"created_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

// ExecutionRecord is the persisted form of one run.
type ExecutionRecord struct {
	ID         string                         `json:"id"`
	Workflow   string                         `json:"workflow"`
	EventID    string                         `json:"event_id"`
	Trigger    string                         `json:"trigger"`
	Mode       string                         `json:"mode"`
	Status     schema.RunStatus               `json:"status"`
	State      *schema.WorkflowExecutionState `json:"state,omitempty"`
	Error      string                         `json:"error,omitempty"`
	StartedAt  time.Time                      `json:"started_at"`
	FinishedAt *time.Time                     `json:"finished_at,omitempty"`
	UpdatedAt  time.Time                      `json:"updated_at"`
}

// RunEvent is one entry in a run's append-only event log. Sequence starts at
// 1 and is contiguous per run.
type RunEvent struct {
	RunID     string          `json:"run_id"`
	Sequence  int64           `json:"sequence"`
	Type      string          `json:"type"`
	Node      string          `json:"node,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ScheduledJob fires a workflow from one of its timer nodes.
type ScheduledJob struct {
	ID             string     `json:"id"`
	Workflow       string     `json:"workflow"`
	Node           string     `json:"node"`
	CronExpression string     `json:"cron_expression"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	Status *schema.WorkflowStatus `json:"status,omitempty"`
	Limit  int                    `json:"limit,omitempty"`
}

// ExecutionUpdate specifies mutable fields of an execution record.
type ExecutionUpdate struct {
	Status     *schema.RunStatus              `json:"status,omitempty"`
	State      *schema.WorkflowExecutionState `json:"state,omitempty"`
	Error      *string                        `json:"error,omitempty"`
	FinishedAt *time.Time                     `json:"finished_at,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions. Results are
// newest first.
type ExecutionFilter struct {
	Workflow string            `json:"workflow,omitempty"`
	Status   *schema.RunStatus `json:"status,omitempty"`
	Limit    int               `json:"limit,omitempty"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Workflow  string     `json:"workflow,omitempty"`
	Enabled   *bool      `json:"enabled,omitempty"`
	DueBefore *time.Time `json:"due_before,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}
