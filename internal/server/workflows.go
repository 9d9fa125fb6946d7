package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/gw123/gflow-sub001/internal/store"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

const maxDefinitionBytes = 4 << 20

// workflowEnvelope is the JSON body of POST /api/workflows. A body without a
// definition key is read as the definition itself.
type workflowEnvelope struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Status      schema.WorkflowStatus `json:"status"`
	Definition  json.RawMessage       `json:"definition"`
}

type validationBody struct {
	Error    string                   `json:"error,omitempty"`
	Message  string                   `json:"message,omitempty"`
	Errors   []schema.ValidationIssue `json:"errors"`
	Warnings []schema.ValidationIssue `json:"warnings"`
	Valid    bool                     `json:"valid"`
}

func newValidationBody(r *schema.ValidationResult) validationBody {
	body := validationBody{
		Errors:   r.Errors,
		Warnings: r.Warnings,
		Valid:    r.Valid(),
	}
	if body.Errors == nil {
		body.Errors = []schema.ValidationIssue{}
	}
	if body.Warnings == nil {
		body.Warnings = []schema.ValidationIssue{}
	}
	if !body.Valid {
		body.Error = schema.ErrCodeValidation
		body.Message = r.ToError().Error()
	}
	return body
}

// readDefinition decodes and validates a definition from the request body.
// YAML bodies are detected by content type.
func (s *Server) readDefinition(c echo.Context) (workflowEnvelope, *schema.WorkflowDefinition, *schema.ValidationResult, error) {
	var env workflowEnvelope
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxDefinitionBytes))
	if err != nil {
		return env, nil, nil, badRequest("read body: " + err.Error())
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return env, nil, nil, badRequest("request body is empty")
	}

	format := schema.FormatJSON
	source := data
	if strings.Contains(c.Request().Header.Get(echo.HeaderContentType), "yaml") {
		format = schema.FormatYAML
	} else {
		if err := json.Unmarshal(data, &env); err != nil {
			return env, nil, nil, badRequest("invalid JSON: " + err.Error())
		}
		if len(env.Definition) > 0 {
			source = env.Definition
		}
	}

	def, result := s.deps.Validator.ValidateSource(source, format)
	return env, def, result, nil
}

func (s *Server) validate(c echo.Context) error {
	_, _, result, err := s.readDefinition(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newValidationBody(result))
}

func (s *Server) listWorkflows(c echo.Context) error {
	filter := store.WorkflowFilter{Limit: queryInt(c, "limit", 0)}
	if st := c.QueryParam("status"); st != "" {
		status := schema.WorkflowStatus(st)
		filter.Status = &status
	}
	list, err := s.deps.Store.ListWorkflows(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*store.StoredWorkflow{}
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) saveWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	env, def, result, err := s.readDefinition(c)
	if err != nil {
		return err
	}
	if !result.Valid() {
		return c.JSON(http.StatusBadRequest, newValidationBody(result))
	}

	name := firstNonEmpty(env.Name, c.QueryParam("name"), def.Name)
	if name == "" {
		return badRequest("workflow name is required")
	}
	def.Name = name
	status := env.Status
	if status == "" {
		status = schema.WorkflowStatusActive
	}
	if status != schema.WorkflowStatusActive && status != schema.WorkflowStatusInactive {
		return badRequest("status must be active or inactive")
	}

	wf := &store.StoredWorkflow{
		Name:        name,
		Description: firstNonEmpty(env.Description, def.Description),
		Definition:  def,
		Status:      status,
	}
	if err := s.deps.Store.SaveWorkflow(ctx, wf); err != nil {
		return err
	}
	s.syncSchedule(c, wf)

	return c.JSON(http.StatusCreated, map[string]any{
		"workflow": wf,
		"warnings": newValidationBody(result).Warnings,
	})
}

func (s *Server) getWorkflow(c echo.Context) error {
	wf, err := s.deps.Store.GetWorkflow(c.Request().Context(), c.Param("name"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wf)
}

func (s *Server) deleteWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	name := c.Param("name")
	if err := s.deps.Store.DeleteWorkflow(ctx, name); err != nil {
		return err
	}
	if err := s.deps.Store.DeleteScheduledJobs(ctx, name); err != nil {
		s.deps.Logger.Warn("drop scheduled jobs", slog.String("workflow", name), slog.String("error", err.Error()))
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) setWorkflowStatus(c echo.Context) error {
	ctx := c.Request().Context()
	var body struct {
		Status schema.WorkflowStatus `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest("invalid JSON: " + err.Error())
	}
	if body.Status != schema.WorkflowStatusActive && body.Status != schema.WorkflowStatusInactive {
		return badRequest("status must be active or inactive")
	}
	name := c.Param("name")
	if err := s.deps.Store.SetWorkflowStatus(ctx, name, body.Status); err != nil {
		return err
	}
	wf, err := s.deps.Store.GetWorkflow(ctx, name)
	if err != nil {
		return err
	}
	s.syncSchedule(c, wf)
	return c.JSON(http.StatusOK, wf)
}

func (s *Server) syncSchedule(c echo.Context, wf *store.StoredWorkflow) {
	if s.deps.Scheduler == nil {
		return
	}
	if err := s.deps.Scheduler.SyncWorkflow(c.Request().Context(), wf); err != nil {
		s.deps.Logger.Warn("sync schedule", slog.String("workflow", wf.Name), slog.String("error", err.Error()))
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// queryInt extracts an integer query param with a default value.
func queryInt(c echo.Context, key string, def int) int {
	v := c.QueryParam(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
