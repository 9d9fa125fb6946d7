package engine

import (
	"context"
	"time"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

// Outcome is the partial result a runner reports for one node execution.
// An empty Status means success. Nil Logs keeps the lines the runner wrote
// through NodeContext.Logf.
type Outcome struct {
	Status schema.ExecutionStatus
	Inputs any
	Output any
	Error  string
	Logs   []string
}

// Runner executes one node type.
type Runner interface {
	Run(ctx context.Context, node *schema.NodeDefinition, nctx *NodeContext) (*Outcome, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, node *schema.NodeDefinition, nctx *NodeContext) (*Outcome, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, node *schema.NodeDefinition, nctx *NodeContext) (*Outcome, error) {
	return f(ctx, node, nctx)
}

// RunnerResolver maps a node type to its runner. Implementations should
// return a fallback runner for unknown types; a nil result is recorded as a
// node error.
type RunnerResolver interface {
	Resolve(nodeType string) Runner
}

// ResolverFunc adapts a function to the RunnerResolver interface.
type ResolverFunc func(nodeType string) Runner

// Resolve calls f.
func (f ResolverFunc) Resolve(nodeType string) Runner {
	return f(nodeType)
}

// ConditionEvaluator decides whether one connection guard passes. It must not
// fail: evaluation errors are reported as false.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, guard any, nctx *NodeContext) bool
}

// ConditionFunc adapts a function to the ConditionEvaluator interface.
type ConditionFunc func(ctx context.Context, guard any, nctx *NodeContext) bool

// Evaluate calls f.
func (f ConditionFunc) Evaluate(ctx context.Context, guard any, nctx *NodeContext) bool {
	return f(ctx, guard, nctx)
}

// LiteralConditions accepts nil, "", true and "true". Every other guard fails.
var LiteralConditions = ConditionFunc(func(_ context.Context, guard any, _ *NodeContext) bool {
	switch v := guard.(type) {
	case nil:
		return true
	case bool:
		return v
	case string:
		return v == "" || v == "true"
	default:
		return false
	}
})

// Observer receives a snapshot after every observable state change.
type Observer func(state *schema.WorkflowExecutionState)

// NodeEvent describes a node starting or finishing.
type NodeEvent struct {
	Node     string
	Type     string
	Status   schema.ExecutionStatus
	Duration time.Duration
	Error    string
}

// NodeHook receives node lifecycle events, e.g. for metrics.
type NodeHook func(NodeEvent)
