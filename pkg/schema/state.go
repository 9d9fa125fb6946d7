package schema

import (
	"net/http"
	"time"
)

// ExecutionStatus is the lifecycle state of a single node result.
type ExecutionStatus string

const (
	StatusPending ExecutionStatus = "pending"
	StatusRunning ExecutionStatus = "running"
	StatusSuccess ExecutionStatus = "success"
	StatusError   ExecutionStatus = "error"
	StatusSkipped ExecutionStatus = "skipped"
)

// Terminal reports whether the status is final for one execution.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusSkipped
}

// NodeExecutionResult is created the first time a node runs and mutated in place.
type NodeExecutionResult struct {
	NodeName  string          `json:"node_name"`
	Status    ExecutionStatus `json:"status"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	Inputs    any             `json:"inputs,omitempty"`
	Output    any             `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	Logs      []string        `json:"logs"`
}

// Clone copies the record. Inputs and Output are shared.
func (r *NodeExecutionResult) Clone() *NodeExecutionResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.EndTime != nil {
		t := *r.EndTime
		c.EndTime = &t
	}
	c.Logs = append([]string(nil), r.Logs...)
	return &c
}

// ResponseContext is the response-capture slot written by response nodes.
type ResponseContext struct {
	Body        any               `json:"body,omitempty"`
	StatusCode  int               `json:"status_code"`
	Headers     map[string]string `json:"headers"`
	HasResponse bool              `json:"has_response"`
	EventID     string            `json:"event_id,omitempty"`
}

// NewResponseContext returns an empty slot correlated to eventID.
func NewResponseContext(eventID string) *ResponseContext {
	return &ResponseContext{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{},
		EventID:    eventID,
	}
}

// Clone copies the slot including headers.
func (r *ResponseContext) Clone() *ResponseContext {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		c.Headers[k] = v
	}
	return &c
}

// InputField describes one field a human-input node asks for.
type InputField struct {
	Key      string `json:"key" yaml:"key"`
	Label    string `json:"label,omitempty" yaml:"label,omitempty"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"` // text | number | boolean | select | textarea
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default  any    `json:"default,omitempty" yaml:"default,omitempty"`
	Options  []any  `json:"options,omitempty" yaml:"options,omitempty"`
}

// PendingInputConfig is published while a run waits for human input.
type PendingInputConfig struct {
	NodeName    string       `json:"node_name,omitempty"`
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Fields      []InputField `json:"fields"`
}

// WorkflowExecutionState is the single mutable aggregate owned by one engine.
type WorkflowExecutionState struct {
	IsRunning          bool                            `json:"is_running"`
	IsPaused           bool                            `json:"is_paused"`
	WaitingForInput    bool                            `json:"waiting_for_input"`
	PendingInputConfig *PendingInputConfig             `json:"pending_input_config,omitempty"`
	NodeResults        map[string]*NodeExecutionResult `json:"node_results"`
	Logs               []string                        `json:"logs"`
	ResponseContext    *ResponseContext                `json:"response_context,omitempty"`
}

// NewExecutionState returns an idle state with no results.
func NewExecutionState() *WorkflowExecutionState {
	return &WorkflowExecutionState{
		NodeResults: map[string]*NodeExecutionResult{},
		Logs:        []string{},
	}
}

// Clone returns a snapshot safe to hand to observers.
func (s *WorkflowExecutionState) Clone() *WorkflowExecutionState {
	if s == nil {
		return nil
	}
	c := *s
	if s.PendingInputConfig != nil {
		p := *s.PendingInputConfig
		p.Fields = append([]InputField(nil), s.PendingInputConfig.Fields...)
		c.PendingInputConfig = &p
	}
	c.NodeResults = make(map[string]*NodeExecutionResult, len(s.NodeResults))
	for k, v := range s.NodeResults {
		c.NodeResults[k] = v.Clone()
	}
	c.Logs = append([]string{}, s.Logs...)
	c.ResponseContext = s.ResponseContext.Clone()
	return &c
}

// Succeeded reports whether name already has a success result.
func (s *WorkflowExecutionState) Succeeded(name string) bool {
	r, ok := s.NodeResults[name]
	return ok && r != nil && r.Status == StatusSuccess
}
