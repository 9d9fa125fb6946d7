package schema

// Event type constants published on the streaming hub.
const (
	EventState           = "state"
	EventRunStarted      = "run_started"
	EventRunFinished     = "run_finished"
	EventNodeStarted     = "node_started"
	EventNodeFinished    = "node_finished"
	EventStepPaused      = "step_paused"
	EventWaitingForInput = "waiting_for_input"
	EventInputSubmitted  = "input_submitted"
	EventResponse        = "response"
	EventTerminated      = "terminated"
)

// RunStatus is the lifecycle state of a persisted execution record.
type RunStatus string

const (
	RunStatusRunning    RunStatus = "running"
	RunStatusPaused     RunStatus = "paused"
	RunStatusWaiting    RunStatus = "waiting"
	RunStatusSuspended  RunStatus = "suspended"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusTerminated RunStatus = "terminated"
)

// Trigger kinds recorded on execution records.
const (
	TriggerManual   = "manual"
	TriggerWebhook  = "webhook"
	TriggerSchedule = "schedule"
	TriggerMCP      = "mcp"
	TriggerCLI      = "cli"
)

// WorkflowStatus controls whether stored workflows are eligible for scheduling.
type WorkflowStatus string

const (
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusInactive WorkflowStatus = "inactive"
)

// Finished reports whether no further progress is possible without an
// explicit resume.
func (s RunStatus) Finished() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusTerminated:
		return true
	}
	return false
}
