package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gw123/gflow-sub001/internal/streaming"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

const sseKeepAlive = 15 * time.Second

// runEvents streams one run's events. The current snapshot is sent first;
// the stream ends after run_finished.
func (s *Server) runEvents(c echo.Context) error {
	id := c.Param("id")
	info, err := s.deps.Manager.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	filter := streaming.EventFilter{RunID: id, EventTypes: eventTypes(c)}

	var first *streaming.StreamEvent
	if info.State != nil {
		first = &streaming.StreamEvent{
			RunID:     id,
			Workflow:  info.Workflow,
			EventType: schema.EventState,
			Payload:   info.State,
			Timestamp: time.Now().UTC(),
		}
	}
	if first == nil && !info.Live {
		first = &streaming.StreamEvent{
			RunID:     id,
			Workflow:  info.Workflow,
			EventType: schema.EventRunFinished,
			Payload:   map[string]any{"status": info.Status},
			Timestamp: time.Now().UTC(),
		}
	}
	return s.serveSSE(c, filter, first, info.Live)
}

func eventTypes(c echo.Context) []string {
	raw := c.QueryParam("types")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// serveSSE subscribes with filter and writes events until the client leaves.
// With untilFinished the stream ends after a run_finished event; a run that
// is not live ends right after the snapshot.
func (s *Server) serveSSE(c echo.Context, filter streaming.EventFilter, first *streaming.StreamEvent, untilFinished bool) error {
	if s.deps.Hub == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event streaming is not configured")
	}
	ctx := c.Request().Context()
	ch, cancel, err := s.deps.Hub.Subscribe(ctx, filter)
	if err != nil {
		return err
	}
	defer cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	if first != nil {
		writeEvent(w, *first)
		if !untilFinished {
			return nil
		}
	}

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			w.Flush()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			writeEvent(w, ev)
			if untilFinished && ev.EventType == schema.EventRunFinished {
				return nil
			}
		}
	}
}

func writeEvent(w *echo.Response, ev streaming.StreamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType, data)
	w.Flush()
}

// allEvents streams every run's events, optionally narrowed to one workflow.
func (s *Server) allEvents(c echo.Context) error {
	filter := streaming.EventFilter{Workflow: c.QueryParam("workflow"), EventTypes: eventTypes(c)}
	return s.serveSSE(c, filter, nil, false)
}
