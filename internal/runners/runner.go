// Package runners implements the built-in node types and the registry the
// engine resolves them through.
package runners

import (
	"context"
	"fmt"
	"time"

	"github.com/gw123/gflow-sub001/internal/engine"
	"github.com/gw123/gflow-sub001/internal/expressions"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

// Call is what a node runner receives. Params and Credentials are already
// interpolated.
type Call struct {
	Node        *schema.NodeDefinition
	Params      map[string]any
	Credentials map[string]any
	Scope       *expressions.Scope
	Ctx         *engine.NodeContext
}

// Logf writes a line to the node's logs.
func (c *Call) Logf(format string, args ...any) {
	c.Ctx.Logf(format, args...)
}

// Func executes one node type.
type Func func(ctx context.Context, call *Call) (*engine.Outcome, error)

// Info describes a registered node type.
type Info struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// succeeded builds a success outcome recording the resolved params as inputs.
func succeeded(call *Call, output any) *engine.Outcome {
	return &engine.Outcome{Status: schema.StatusSuccess, Inputs: call.Params, Output: output}
}

// failed builds an error outcome. The message is also logged on the node.
func failed(call *Call, format string, args ...any) *engine.Outcome {
	msg := fmt.Sprintf(format, args...)
	call.Logf("Error: %s", msg)
	return &engine.Outcome{Status: schema.StatusError, Inputs: call.Params, Error: msg}
}

// withParams returns a copy of params with extra keys overlaid.
func withParams(params map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(params)+len(extra))
	for k, v := range params {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
