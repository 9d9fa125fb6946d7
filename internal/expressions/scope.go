package expressions

import (
	"context"
	"encoding/json"

	"github.com/gw123/gflow-sub001/internal/engine"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

// SecretLookup resolves a credential key to its plaintext value.
type SecretLookup func(ctx context.Context, key string) (string, error)

// Scope holds everything an expression can see while a node runs or while
// the guards on its outgoing connections are checked.
type Scope struct {
	Shared   map[string]any // $P: merged outputs of successful nodes
	Global   map[string]any
	Inputs   map[string]any // per-node outputs plus $P
	Workflow map[string]any
	Current  map[string]any
	Trigger  map[string]any

	results func(name string) (*schema.NodeExecutionResult, bool)
	secret  func(key string) (string, error)
}

// ScopeFrom builds a Scope for the node context. secrets may be nil, in which
// case the secret() function reports that no vault is configured.
func ScopeFrom(ctx context.Context, nctx *engine.NodeContext, secrets SecretLookup) *Scope {
	s := &Scope{
		Inputs:  orEmpty(nctx.Inputs),
		Global:  orEmpty(nctx.Global),
		Trigger: deepCopyMap(orEmpty(nctx.TriggerData)),
		results: nctx.Result,
	}
	s.Shared = nctx.SharedInputs()
	if s.Shared == nil {
		s.Shared = s.Inputs
	}
	s.Workflow = map[string]any{}
	if wf := nctx.Workflow; wf != nil {
		s.Workflow = map[string]any{
			"name":        wf.Name,
			"description": wf.Description,
			"global":      orEmpty(wf.Global),
		}
	}
	s.Current = nodeMap(nctx.Node)
	s.secret = func(key string) (string, error) {
		if secrets == nil {
			return "", schema.NewErrorf(schema.ErrCodeSecret, "secret %q requested but no vault is configured", key)
		}
		return secrets(ctx, key)
	}
	return s
}

// NewScope builds a Scope from plain maps. Used by callers outside a run,
// such as the validate command and tests.
func NewScope(shared, global map[string]any) *Scope {
	shared = orEmpty(shared)
	return &Scope{
		Shared:   shared,
		Global:   orEmpty(global),
		Inputs:   map[string]any{schema.SharedInputKey: shared},
		Workflow: map[string]any{},
		Current:  map[string]any{},
		Trigger:  map[string]any{},
	}
}

// Node mirrors the $node(name) helper: the node's output fields overlaid with
// its result record. Unknown nodes yield an empty map.
func (s *Scope) Node(name string) map[string]any {
	out := map[string]any{}
	if s.results == nil {
		return out
	}
	r, ok := s.results(name)
	if !ok || r == nil {
		return out
	}
	if m, ok := r.Output.(map[string]any); ok {
		for k, v := range m {
			out[k] = deepCopyAny(v)
		}
	}
	out["node_name"] = r.NodeName
	out["status"] = string(r.Status)
	out["inputs"] = deepCopyAny(r.Inputs)
	out["output"] = deepCopyAny(r.Output)
	out["error"] = r.Error
	out["logs"] = toAnySlice(r.Logs)
	return out
}

// Secret resolves a credential through the configured vault.
func (s *Scope) Secret(key string) (string, error) {
	if s.secret == nil {
		return "", schema.NewErrorf(schema.ErrCodeSecret, "secret %q requested but no vault is configured", key)
	}
	return s.secret(key)
}

// ExprEnv is the Expr environment. Every variable is reachable by its
// dollar name and by a plain alias.
func (s *Scope) ExprEnv() map[string]any {
	return map[string]any{
		"$P":        s.Shared,
		"P":         s.Shared,
		"$global":   s.Global,
		"global":    s.Global,
		"$inputs":   s.Inputs,
		"inputs":    s.Inputs,
		"$WORKFLOW": s.Workflow,
		"workflow":  s.Workflow,
		"$NODE":     s.Current,
		"current":   s.Current,
		"$trigger":  s.Trigger,
		"trigger":   s.Trigger,
		"$node":     s.Node,
		"node":      s.Node,
		"secret":    s.Secret,
	}
}

// Vars is the variable set for CEL and the input document for jq.
func (s *Scope) Vars() map[string]any {
	return map[string]any{
		"P":        s.Shared,
		"global":   s.Global,
		"inputs":   s.Inputs,
		"workflow": s.Workflow,
		"current":  s.Current,
		"trigger":  s.Trigger,
	}
}

func nodeMap(n *schema.NodeDefinition) map[string]any {
	if n == nil {
		return map[string]any{}
	}
	return map[string]any{
		"name":       n.Name,
		"type":       n.Type,
		"desc":       n.Desc,
		"parameters": deepCopyMap(orEmpty(n.Parameters)),
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies maps and slices. Scalars are returned
// as is.
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
