package engine

import (
	"context"
	"fmt"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

// NodeContext is what a runner or condition evaluator sees of the run. State
// is reached only through its methods, which lock the owning engine.
type NodeContext struct {
	Workflow *schema.WorkflowDefinition
	// Node is the node being executed, or the source node while guards are
	// evaluated.
	Node *schema.NodeDefinition
	// Global is the workflow global map overlaid with the node's overrides.
	Global map[string]any
	// Inputs is a copy of the aggregation map: schema.SharedInputKey plus one
	// entry per successful node.
	Inputs      map[string]any
	TriggerData map[string]any
	EventID     string

	engine  *Engine
	canWait bool
}

// SharedInputs returns the shallow merge of every successful output.
func (c *NodeContext) SharedInputs() map[string]any {
	p, _ := c.Inputs[schema.SharedInputKey].(map[string]any)
	return p
}

// Logf appends a line to the node's own logs and to the run log.
func (c *NodeContext) Logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	name := ""
	if c.Node != nil {
		name = c.Node.Name
	}
	c.engine.nodeLog(name, c.canWait, msg)
}

// CanWaitForInput reports whether WaitForInput is available in this context.
func (c *NodeContext) CanWaitForInput() bool {
	return c.canWait
}

// WaitForInput publishes cfg, marks the run as waiting and blocks until the
// host calls Engine.SubmitInput, the run is terminated, or ctx ends.
func (c *NodeContext) WaitForInput(ctx context.Context, cfg schema.PendingInputConfig) (map[string]any, error) {
	if !c.canWait {
		return nil, schema.NewError(schema.ErrCodeInputUnsupported, "human input is not available in this context")
	}
	return c.engine.waitForInput(ctx, c.Node.Name, cfg)
}

// SetResponse replaces the response slot. The event id is preserved.
func (c *NodeContext) SetResponse(body any, statusCode int, headers map[string]string) schema.ResponseContext {
	return c.engine.setResponse(body, statusCode, headers)
}

// Response returns a copy of the current response slot.
func (c *NodeContext) Response() schema.ResponseContext {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	if c.engine.state.ResponseContext == nil {
		return *schema.NewResponseContext(c.EventID)
	}
	return *c.engine.state.ResponseContext.Clone()
}

// Result returns a copy of another node's result.
func (c *NodeContext) Result(name string) (*schema.NodeExecutionResult, bool) {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	r, ok := c.engine.state.NodeResults[name]
	return r.Clone(), ok
}

// State returns a snapshot of the whole execution state.
func (c *NodeContext) State() *schema.WorkflowExecutionState {
	return c.engine.State()
}
