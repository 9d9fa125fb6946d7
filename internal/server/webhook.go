package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gw123/gflow-sub001/internal/logging"
	"github.com/gw123/gflow-sub001/internal/runtime"
	"github.com/gw123/gflow-sub001/internal/store"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

const responseNodeType = "response"

// webhook triggers a stored workflow from an arbitrary HTTP request.
//
// A workflow holding a response node, or a request asking for it with
// sync_response / X-Sync-Response, is answered with whatever the run writes
// into its response slot. Everything else is accepted with 202.
func (s *Server) webhook(c echo.Context) error {
	ctx := c.Request().Context()
	r := c.Request()
	name := c.Param("name")

	wf, err := s.deps.Store.GetWorkflow(ctx, name)
	if err != nil {
		return err
	}
	if wf.Status != schema.WorkflowStatusActive {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %s is %s", name, wf.Status)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDefinitionBytes))
	if err != nil {
		return badRequest("read body: " + err.Error())
	}
	if err := s.authorize(c, wf, body); err != nil {
		return err
	}

	req := runtime.StartRequest{
		Workflow:    name,
		Definition:  wf.Definition,
		Trigger:     schema.TriggerWebhook,
		TriggerData: webhookPayload(r, body),
		EventID:     r.Header.Get("X-Event-Id"),
	}

	if !isSync(c, wf.Definition) {
		run, err := s.deps.Manager.Start(ctx, req)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, map[string]any{
			"accepted": true,
			"event_id": run.EventID,
			"run_id":   run.ID,
		})
	}

	res, err := s.deps.Manager.Dispatch(ctx, req, responseTimeout(c))
	if err != nil {
		return err
	}
	run := res.Run
	switch {
	case res.Response != nil:
		return writeResponse(c, res.Response)
	case res.TimedOut:
		logging.LogWith(logging.WithRunID(logging.WithWorkflow(ctx, name), run.ID), s.deps.Logger).
			Warn("webhook response timed out")
		return c.JSON(http.StatusGatewayTimeout, map[string]any{
			"error":    "gateway_timeout",
			"message":  "Workflow execution timed out",
			"event_id": run.EventID,
			"run_id":   run.ID,
		})
	default:
		return c.JSON(http.StatusOK, map[string]any{
			"success":  true,
			"event_id": run.EventID,
			"run_id":   run.ID,
			"status":   run.Info().Status,
		})
	}
}

// authorize checks the request against the webhook nodes of wf. When the
// workflow declares webhook nodes, one of them must accept the method and
// its auth must pass.
func (s *Server) authorize(c echo.Context, wf *store.StoredWorkflow, body []byte) error {
	r := c.Request()
	var candidates []*schema.NodeDefinition
	for i := range wf.Definition.Nodes {
		node := &wf.Definition.Nodes[i]
		if node.Type != schema.NodeTypeWebhook {
			continue
		}
		if m := param(node.Parameters, "httpMethod", ""); m != "" && !strings.EqualFold(m, r.Method) {
			continue
		}
		candidates = append(candidates, node)
	}
	if len(candidates) == 0 {
		if hasNodeType(wf.Definition, schema.NodeTypeWebhook) {
			return echo.NewHTTPError(http.StatusMethodNotAllowed, "method "+r.Method+" is not accepted by "+wf.Name)
		}
		return nil
	}

	var lastErr error
	for _, node := range candidates {
		auth, err := authFor(r.Context(), s.deps.Vault, node)
		if err != nil {
			return err
		}
		if lastErr = auth.Verify(r, body, time.Now()); lastErr == nil {
			return nil
		}
	}
	if errors.Is(lastErr, errUnauthorized) {
		s.deps.Logger.Warn("webhook rejected", slog.String("workflow", wf.Name), slog.String("reason", lastErr.Error()))
		return echo.NewHTTPError(http.StatusUnauthorized, lastErr.Error())
	}
	return lastErr
}

// webhookPayload is the trigger data of a webhook run.
func webhookPayload(r *http.Request, body []byte) map[string]any {
	headers := make(map[string]any, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	query := make(map[string]any)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	var parsed any
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		if err := json.Unmarshal(body, &parsed); err != nil {
			parsed = string(body)
		}
	}
	return map[string]any{
		"method":  r.Method,
		"path":    r.URL.Path,
		"headers": headers,
		"query":   query,
		"body":    parsed,
	}
}

func isSync(c echo.Context, def *schema.WorkflowDefinition) bool {
	if hasNodeType(def, responseNodeType) {
		return true
	}
	if queryBool(c, "sync_response") {
		return true
	}
	b, _ := strconv.ParseBool(c.Request().Header.Get("X-Sync-Response"))
	return b
}

func hasNodeType(def *schema.WorkflowDefinition, typ string) bool {
	for _, n := range def.Nodes {
		if n.Type == typ {
			return true
		}
	}
	return false
}

// responseTimeout reads the caller's timeout; zero means the manager default.
func responseTimeout(c echo.Context) time.Duration {
	raw := c.QueryParam("response_timeout_ms")
	if raw == "" {
		raw = c.Request().Header.Get("X-Response-Timeout-Ms")
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// writeResponse replays a response slot onto the HTTP response.
func writeResponse(c echo.Context, rc *schema.ResponseContext) error {
	h := c.Response().Header()
	for k, v := range rc.Headers {
		h.Set(k, v)
	}
	status := rc.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	switch body := rc.Body.(type) {
	case nil:
		return c.JSON(status, map[string]any{"success": true, "event_id": rc.EventID})
	case string:
		if ct := h.Get(echo.HeaderContentType); ct != "" {
			return c.Blob(status, ct, []byte(body))
		}
		return c.JSON(status, body)
	default:
		return c.JSON(status, body)
	}
}
