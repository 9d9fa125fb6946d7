package runners

import (
	"context"

	"github.com/gw123/gflow-sub001/internal/engine"
)

// runTransform runs the jq `query` over `input`, or over the node scope
// (P, inputs, global, workflow, current, trigger) when no input is given.
// A non-object input is exposed as .input. Object results become the node output; anything else is wrapped as
// {"result": value}.
func (r *Registry) runTransform(ctx context.Context, call *Call) (*engine.Outcome, error) {
	query := stringParam(call.Params, "query", "")
	if query == "" {
		return failed(call, "transform requires a 'query' parameter"), nil
	}
	data := call.Scope.Vars()
	if in, ok := call.Params["input"]; ok {
		data = map[string]any{"input": in}
		if m, ok := in.(map[string]any); ok {
			data = m
		}
	}

	result, err := r.engines.JQ.Evaluate(ctx, query, data)
	if err != nil {
		return failed(call, "%s", err.Error()), nil
	}
	call.Logf("Transform applied: %s", query)
	return succeeded(call, wrapResult(result)), nil
}

// runExpr evaluates `expression` against the node scope. The parameter is
// read raw, before interpolation, so it does not need an "=" prefix.
func (r *Registry) runExpr(ctx context.Context, call *Call) (*engine.Outcome, error) {
	code, _ := call.Node.Parameters["expression"].(string)
	if code == "" {
		return failed(call, "expr requires an 'expression' parameter"), nil
	}
	result, err := r.interp.Eval(ctx, code, call.Scope)
	if err != nil {
		return failed(call, "%s", err.Error()), nil
	}
	return succeeded(call, wrapResult(result)), nil
}

func wrapResult(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": v}
}
