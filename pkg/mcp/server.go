// Package mcp exposes gflow workflows as Model Context Protocol tools.
package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gw123/gflow-sub001/internal/runtime"
	"github.com/gw123/gflow-sub001/internal/store"
	"github.com/gw123/gflow-sub001/internal/streaming"
	"github.com/gw123/gflow-sub001/internal/validation"
)

const (
	toolDefine  = "gflow.define"
	toolRun     = "gflow.run"
	toolStatus  = "gflow.status"
	toolControl = "gflow.control"
	toolList    = "gflow.list"
)

// WorkflowSyncer reconciles scheduled jobs after gflow.define stores a
// workflow.
type WorkflowSyncer interface {
	SyncWorkflow(ctx context.Context, wf *store.StoredWorkflow) error
}

// Deps holds the dependencies of a Server. Manager, Store and Validator are
// required; Hub enables run notifications.
type Deps struct {
	Manager   *runtime.Manager
	Store     store.Store
	Validator *validation.WorkflowValidator
	Hub       streaming.EventHub
	Scheduler WorkflowSyncer
	Logger    *slog.Logger
	Version   string
}

// Server wraps an MCP server with the gflow tool handlers.
type Server struct {
	deps      Deps
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  *Notifier
	mcpServer *server.MCPServer
}

// New creates a Server with every tool registered.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		deps:     deps,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"gflow",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("gflow runs node-graph workflows. Use gflow.define to store a workflow, gflow.run to start it, gflow.status to inspect a run, gflow.control to step, resume, terminate or answer an input request, and gflow.list to browse workflows and runs."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewNotifier(mcpSrv, s.sessions, logger)
	return s
}

// Serve runs the stdio transport until ctx is cancelled or stdin closes.
// Run notifications are forwarded while it serves.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.watch(ctx)

	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// HTTPHandler returns a streamable HTTP transport for mounting on the API
// server. Notifications are forwarded until ctx ends.
func (s *Server) HTTPHandler(ctx context.Context) http.Handler {
	s.watch(ctx)
	return server.NewStreamableHTTPServer(s.mcpServer)
}

// MCPServer returns the underlying MCPServer for tests or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) watch(ctx context.Context) {
	if s.deps.Hub == nil {
		return
	}
	go func() {
		if err := s.notifier.Watch(ctx, s.deps.Hub); err != nil {
			s.logger.Warn("run notifications stopped", slog.String("error", err.Error()))
		}
	}()
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: controlTool(), Handler: s.handleControl},
		{Tool: listTool(), Handler: s.handleList},
	}
}

func defineTool() mcp.Tool {
	return mcp.NewTool(toolDefine,
		mcp.WithDescription("Validate and store a workflow definition"),
		mcp.WithObject("definition", mcp.Description("Workflow definition object (nodes, connections, global)")),
		mcp.WithString("source", mcp.Description("Workflow definition as JSON or YAML text, used when definition is omitted")),
		mcp.WithString("name", mcp.Description("Workflow name (default: the definition's name)")),
		mcp.WithString("description", mcp.Description("Workflow description")),
		mcp.WithString("status", mcp.Enum("active", "inactive"), mcp.Description("Workflow status (default: active)")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool(toolRun,
		mcp.WithDescription("Start a stored workflow"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Name of the stored workflow")),
		mcp.WithObject("data", mcp.Description("Trigger data passed to the entry nodes")),
		mcp.WithString("mode", mcp.Enum("run", "step"), mcp.Description("run executes freely; step pauses before every node")),
		mcp.WithBoolean("wait", mcp.Description("Block until the run completes, fails, pauses or waits for input")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool(toolStatus,
		mcp.WithDescription("Get the status and state of a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithBoolean("include_state", mcp.Description("Include the full execution state (default: true)")),
	)
}

func controlTool() mcp.Tool {
	return mcp.NewTool(toolControl,
		mcp.WithDescription("Step, resume, terminate or submit input to a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("step", "resume", "terminate", "input"),
			mcp.Description("Control action"),
		),
		mcp.WithObject("input", mcp.Description("Form values, required for the input action")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool(toolList,
		mcp.WithDescription("List stored workflows or runs"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "runs", "executions"),
			mcp.Description("What to list: workflows, live runs, or persisted executions"),
		),
		mcp.WithString("workflow", mcp.Description("Only runs of this workflow")),
		mcp.WithString("status", mcp.Description("Status filter")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of items (default 50)")),
	)
}
