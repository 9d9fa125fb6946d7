package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/gw123/gflow-sub001/internal/engine"
	"github.com/gw123/gflow-sub001/internal/runtime"
	"github.com/gw123/gflow-sub001/internal/store"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

// readObject decodes an optional JSON object body. An empty body is nil.
func readObject(c echo.Context) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxDefinitionBytes))
	if err != nil {
		return nil, badRequest("read body: " + err.Error())
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, badRequest("body must be a JSON object: " + err.Error())
	}
	return obj, nil
}

func queryBool(c echo.Context, key string) bool {
	b, _ := strconv.ParseBool(c.QueryParam(key))
	return b
}

// startRun starts a stored workflow. The body, if any, becomes the trigger
// data. ?mode=step starts paused before the first node; ?wait=true blocks
// until the run stops.
func (s *Server) startRun(c echo.Context) error {
	ctx := c.Request().Context()
	data, err := readObject(c)
	if err != nil {
		return err
	}
	req := runtime.StartRequest{
		Workflow:    c.Param("name"),
		Mode:        engine.ParseMode(c.QueryParam("mode")),
		Trigger:     schema.TriggerManual,
		TriggerData: data,
		EventID:     c.QueryParam("event_id"),
	}

	if queryBool(c, "wait") {
		run, err := s.deps.Manager.Execute(ctx, req)
		if run == nil {
			return err
		}
		return c.JSON(http.StatusOK, run.Info())
	}
	run, err := s.deps.Manager.Start(ctx, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, run.Info())
}

func (s *Server) listRuns(c echo.Context) error {
	runs := s.deps.Manager.List(c.QueryParam("workflow"))
	if !queryBool(c, "state") {
		for i := range runs {
			runs[i].State = nil
		}
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) getRun(c echo.Context) error {
	info, err := s.deps.Manager.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

// control applies fn to the run and answers with its fresh snapshot.
func (s *Server) control(c echo.Context, fn func(id string) error) error {
	id := c.Param("id")
	if err := fn(id); err != nil {
		return err
	}
	info, err := s.deps.Manager.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) submitInput(c echo.Context) error {
	data, err := readObject(c)
	if err != nil {
		return err
	}
	if data == nil {
		data = map[string]any{}
	}
	return s.control(c, func(id string) error {
		return s.deps.Manager.SubmitInput(c.Request().Context(), id, data)
	})
}

func (s *Server) stepRun(c echo.Context) error {
	return s.control(c, func(id string) error { return s.deps.Manager.Step(c.Request().Context(), id) })
}

func (s *Server) resumeRun(c echo.Context) error {
	return s.control(c, func(id string) error { return s.deps.Manager.Resume(c.Request().Context(), id) })
}

func (s *Server) terminateRun(c echo.Context) error {
	return s.control(c, func(id string) error { return s.deps.Manager.Terminate(c.Request().Context(), id) })
}

// runHistory returns the persisted event log of a run. Read from the start,
// the log is also folded into a per-node timeline.
func (s *Server) runHistory(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	since, _ := strconv.ParseInt(c.QueryParam("since"), 10, 64)

	events, err := s.deps.Store.ListRunEvents(ctx, id, since)
	if err != nil {
		return err
	}
	if len(events) == 0 && since == 0 {
		if _, err := s.deps.Manager.Get(ctx, id); err != nil {
			return err
		}
	}
	if events == nil {
		events = []*store.RunEvent{}
	}

	body := map[string]any{"run_id": id, "events": events}
	if since == 0 {
		timeline, err := store.ReplayRunEvents(events)
		if err != nil {
			return err
		}
		body["timeline"] = timeline
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) listExecutions(c echo.Context) error {
	filter := store.ExecutionFilter{
		Workflow: c.QueryParam("workflow"),
		Limit:    queryInt(c, "limit", 50),
	}
	if st := c.QueryParam("status"); st != "" {
		status := schema.RunStatus(st)
		filter.Status = &status
	}
	recs, err := s.deps.Store.ListExecutions(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []*store.ExecutionRecord{}
	}
	return c.JSON(http.StatusOK, recs)
}

func (s *Server) getExecution(c echo.Context) error {
	rec, err := s.deps.Store.GetExecution(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) resumeExecution(c echo.Context) error {
	run, err := s.deps.Manager.ResumeExecution(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, run.Info())
}
