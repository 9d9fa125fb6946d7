package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gw123/gflow-sub001/internal/engine"
	"github.com/gw123/gflow-sub001/internal/runtime"
	"github.com/gw123/gflow-sub001/internal/store"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

// settlePoll is how often a blocking gflow.run checks the run phase.
const settlePoll = 20 * time.Millisecond

// handleDefine validates a definition and stores it.
func (s *Server) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		data   []byte
		format = schema.FormatJSON
	)
	if raw := mcp.ParseStringMap(req, "definition", nil); raw != nil {
		b, err := json.Marshal(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
		}
		data = b
	} else if src := strings.TrimSpace(req.GetString("source", "")); src != "" {
		data = []byte(src)
		if !strings.HasPrefix(src, "{") {
			format = schema.FormatYAML
		}
	} else {
		return mcp.NewToolResultError("definition or source is required"), nil
	}

	def, result := s.deps.Validator.ValidateSource(data, format)
	if !result.Valid() {
		return mcp.NewToolResultError(result.ToError().Error()), nil
	}

	name := req.GetString("name", "")
	if name == "" {
		name = def.Name
	}
	if name == "" {
		return mcp.NewToolResultError("workflow name is required"), nil
	}
	def.Name = name
	status := schema.WorkflowStatus(req.GetString("status", string(schema.WorkflowStatusActive)))
	if status != schema.WorkflowStatusActive && status != schema.WorkflowStatusInactive {
		return mcp.NewToolResultError("status must be active or inactive"), nil
	}
	description := req.GetString("description", "")
	if description == "" {
		description = def.Description
	}

	wf := &store.StoredWorkflow{Name: name, Description: description, Definition: def, Status: status}
	if err := s.deps.Store.SaveWorkflow(ctx, wf); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store workflow: %v", err)), nil
	}
	if s.deps.Scheduler != nil {
		if err := s.deps.Scheduler.SyncWorkflow(ctx, wf); err != nil {
			s.logger.Warn("sync schedule", "workflow", name, "error", err.Error())
		}
	}

	warnings := result.Warnings
	if warnings == nil {
		warnings = []schema.ValidationIssue{}
	}
	return marshalResult(map[string]any{
		"name":     name,
		"status":   status,
		"nodes":    len(def.Nodes),
		"warnings": warnings,
	})
}

// handleRun starts a stored workflow. With wait it blocks until the run
// finishes or stops for a step or an input.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	run, err := s.deps.Manager.Start(ctx, runtime.StartRequest{
		Workflow:    name,
		Mode:        engine.ParseMode(req.GetString("mode", "")),
		Trigger:     schema.TriggerMCP,
		TriggerData: mcp.ParseStringMap(req, "data", nil),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("start failed: %v", err)), nil
	}
	s.captureSession(ctx, run.ID)

	if !req.GetBool("wait", false) {
		info := run.Info()
		info.State = nil
		return marshalResult(info)
	}
	if err := settle(ctx, run); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run %s: %v", run.ID, err)), nil
	}
	return marshalResult(runResult(run))
}

// settle waits until run no longer makes progress on its own.
func settle(ctx context.Context, run *runtime.Run) error {
	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()
	for {
		switch run.Info().Status {
		case schema.RunStatusPaused, schema.RunStatusWaiting, schema.RunStatusSuspended:
			return nil
		}
		select {
		case <-run.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runResult is the answer of a blocking gflow.run: the snapshot plus what a
// caller acts on next.
func runResult(run *runtime.Run) map[string]any {
	info := run.Info()
	out := map[string]any{"run": info}
	if resp := run.Response(); resp != nil {
		out["response"] = resp
	}
	if st := info.State; st != nil && st.WaitingForInput && st.PendingInputConfig != nil {
		out["pending_input"] = st.PendingInputConfig
	}
	return out
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	info, err := s.deps.Manager.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", err)), nil
	}
	if !req.GetBool("include_state", true) {
		info.State = nil
	}
	return marshalResult(info)
}

func (s *Server) handleControl(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}
	s.captureSession(ctx, id)

	m := s.deps.Manager
	switch action {
	case "step":
		err = m.Step(ctx, id)
	case "resume":
		err = m.Resume(ctx, id)
		if schema.HasCode(err, schema.ErrCodeNotFound) {
			_, err = m.ResumeExecution(ctx, id)
		}
	case "terminate":
		err = m.Terminate(ctx, id)
	case "input":
		input := mcp.ParseStringMap(req, "input", nil)
		if input == nil {
			return mcp.NewToolResultError("input is required for the input action"), nil
		}
		err = m.SubmitInput(ctx, id, input)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", action, err)), nil
	}

	info, err := m.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", err)), nil
	}
	info.State = nil
	return marshalResult(map[string]any{"ok": true, "action": action, "run": info})
}

func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	limit := req.GetInt("limit", 50)
	status := req.GetString("status", "")
	workflow := req.GetString("workflow", "")

	switch resource {
	case "workflows":
		filter := store.WorkflowFilter{Limit: limit}
		if status != "" {
			ws := schema.WorkflowStatus(status)
			filter.Status = &ws
		}
		list, err := s.deps.Store.ListWorkflows(ctx, filter)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		out := make([]map[string]any, 0, len(list))
		for _, wf := range list {
			out = append(out, map[string]any{
				"name":        wf.Name,
				"description": wf.Description,
				"status":      wf.Status,
				"nodes":       len(wf.Definition.Nodes),
				"updated_at":  wf.UpdatedAt,
			})
		}
		return marshalResult(map[string]any{"workflows": out})

	case "runs":
		runs := make([]runtime.RunInfo, 0)
		for _, info := range s.deps.Manager.List(workflow) {
			if status != "" && string(info.Status) != status {
				continue
			}
			info.State = nil
			runs = append(runs, info)
			if limit > 0 && len(runs) == limit {
				break
			}
		}
		return marshalResult(map[string]any{"runs": runs})

	case "executions":
		filter := store.ExecutionFilter{Workflow: workflow, Limit: limit}
		if status != "" {
			rs := schema.RunStatus(status)
			filter.Status = &rs
		}
		recs, err := s.deps.Store.ListExecutions(ctx, filter)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		for _, rec := range recs {
			rec.State = nil
		}
		if recs == nil {
			recs = []*store.ExecutionRecord{}
		}
		return marshalResult(map[string]any{"executions": recs})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// captureSession routes notifications about runID to the calling session.
func (s *Server) captureSession(ctx context.Context, runID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(runID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
