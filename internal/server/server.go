// Package server exposes workflows, runs and webhooks over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/gw123/gflow-sub001/internal/metrics"
	"github.com/gw123/gflow-sub001/internal/runners"
	"github.com/gw123/gflow-sub001/internal/runtime"
	"github.com/gw123/gflow-sub001/internal/secrets"
	"github.com/gw123/gflow-sub001/internal/store"
	"github.com/gw123/gflow-sub001/internal/streaming"
	"github.com/gw123/gflow-sub001/internal/validation"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

// WorkflowSyncer reconciles scheduled jobs after a workflow changes.
// Satisfied by scheduler.Scheduler.
type WorkflowSyncer interface {
	SyncWorkflow(ctx context.Context, wf *store.StoredWorkflow) error
}

// Deps holds the server dependencies. Store, Manager and Validator are
// required.
type Deps struct {
	Store     store.Store
	Manager   *runtime.Manager
	Validator *validation.WorkflowValidator
	Runners   *runners.Registry
	Hub       streaming.EventHub
	Scheduler WorkflowSyncer
	Vault     secrets.Vault
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// Version is reported by /healthz.
	Version string
}

// Server is the gflow HTTP API.
type Server struct {
	deps Deps
	echo *echo.Echo
}

// New creates a Server with every route registered.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(deps.Logger)

	s := &Server{deps: deps, echo: e}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			level := slog.LevelDebug
			if v.Error != nil {
				level = slog.LevelWarn
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			deps.Logger.LogAttrs(c.Request().Context(), level, "http request", attrs...)
			return nil
		},
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))

	api := e.Group("/api")
	api.GET("/node-types", s.nodeTypes)
	api.POST("/validate", s.validate)

	api.GET("/workflows", s.listWorkflows)
	api.POST("/workflows", s.saveWorkflow)
	api.GET("/workflows/:name", s.getWorkflow)
	api.DELETE("/workflows/:name", s.deleteWorkflow)
	api.PUT("/workflows/:name/status", s.setWorkflowStatus)
	api.GET("/workflows/:name/diagram", s.workflowDiagram)
	api.POST("/workflows/:name/runs", s.startRun)

	api.GET("/runs", s.listRuns)
	api.GET("/runs/:id", s.getRun)
	api.POST("/runs/:id/input", s.submitInput)
	api.POST("/runs/:id/step", s.stepRun)
	api.POST("/runs/:id/resume", s.resumeRun)
	api.POST("/runs/:id/terminate", s.terminateRun)
	api.GET("/runs/:id/events", s.runEvents)
	api.GET("/runs/:id/history", s.runHistory)
	api.GET("/runs/:id/diagram", s.runDiagram)
	api.GET("/events", s.allEvents)

	api.GET("/executions", s.listExecutions)
	api.GET("/executions/:id", s.getExecution)
	api.POST("/executions/:id/resume", s.resumeExecution)

	e.Any("/webhook/:name", s.webhook)
}

// Mount serves h under path and everything below it, e.g. an MCP transport.
func (s *Server) Mount(path string, h http.Handler) {
	wrapped := echo.WrapHandler(h)
	s.echo.Any(path, wrapped)
	s.echo.Any(path+"/*", wrapped)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start(addr string) error {
	s.deps.Logger.Info("http server listening", slog.String("addr", addr))
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.deps.Version,
		"time":    time.Now().UTC(),
		"pool":    s.deps.Manager.PoolStats(),
	})
}

func (s *Server) nodeTypes(c echo.Context) error {
	if s.deps.Runners == nil {
		return c.JSON(http.StatusOK, []runners.Info{})
	}
	return c.JSON(http.StatusOK, s.deps.Runners.List())
}

// errorBody is the JSON shape of every API error.
type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// statusFor maps an error code onto an HTTP status.
func statusFor(code string) int {
	switch code {
	case schema.ErrCodeValidation, schema.ErrCodeInputUnsupported:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict, schema.ErrCodeAlreadyRunning, schema.ErrCodeInvalidTransition,
		schema.ErrCodeAlreadyFulfilled, schema.ErrCodeTerminated:
		return http.StatusConflict
	case schema.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusInternalServerError
		body := errorBody{Error: "INTERNAL", Message: err.Error()}

		var ge *schema.GflowError
		var he *echo.HTTPError
		switch {
		case errors.As(err, &ge):
			status = statusFor(ge.Code)
			body = errorBody{Error: ge.Code, Message: ge.Message, Details: ge.Details}
		case errors.As(err, &he):
			status = he.Code
			body = errorBody{Error: http.StatusText(he.Code), Message: http.StatusText(he.Code)}
			if msg, ok := he.Message.(string); ok {
				body.Message = msg
			}
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", slog.String("uri", c.Request().RequestURI), slog.String("error", err.Error()))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Warn("write error response", slog.String("error", err.Error()))
		}
	}
}

func badRequest(msg string) error {
	return schema.NewError(schema.ErrCodeValidation, msg)
}
