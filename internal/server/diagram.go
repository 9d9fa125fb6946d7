package server

import (
	"net/http"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/labstack/echo/v4"

	"github.com/gw123/gflow-sub001/internal/diagram"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

func (s *Server) workflowDiagram(c echo.Context) error {
	wf, err := s.deps.Store.GetWorkflow(c.Request().Context(), c.Param("name"))
	if err != nil {
		return err
	}
	return s.renderDiagram(c, wf.Definition, nil)
}

// runDiagram draws the run's workflow with its node results overlaid.
func (s *Server) runDiagram(c echo.Context) error {
	ctx := c.Request().Context()
	info, err := s.deps.Manager.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	wf, err := s.deps.Store.GetWorkflow(ctx, info.Workflow)
	if err != nil {
		return err
	}
	return s.renderDiagram(c, wf.Definition, info.State)
}

func (s *Server) renderDiagram(c echo.Context, def *schema.WorkflowDefinition, state *schema.WorkflowExecutionState) error {
	model, err := diagram.Build(def, state)
	if err != nil {
		return err
	}
	switch format := strings.ToLower(c.QueryParam("format")); format {
	case "", "mermaid":
		return c.String(http.StatusOK, diagram.RenderMermaid(model))
	case "ascii":
		return c.String(http.StatusOK, diagram.RenderASCII(model))
	case "png":
		img, err := diagram.RenderImage(c.Request().Context(), model, graphviz.PNG)
		if err != nil {
			return err
		}
		return c.Blob(http.StatusOK, "image/png", img)
	case "svg":
		img, err := diagram.RenderImage(c.Request().Context(), model, graphviz.SVG)
		if err != nil {
			return err
		}
		return c.Blob(http.StatusOK, "image/svg+xml", img)
	default:
		return badRequest("format must be mermaid, ascii, png or svg")
	}
}
