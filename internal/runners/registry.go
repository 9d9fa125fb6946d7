package runners

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"

	"github.com/gw123/gflow-sub001/internal/engine"
	"github.com/gw123/gflow-sub001/internal/expressions"
	"github.com/gw123/gflow-sub001/internal/secrets"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

// Options wires the registry's collaborators. Zero values are usable: a nil
// Vault disables credentials and secret().
type Options struct {
	Engines *expressions.Engines
	Vault   secrets.Vault
	HTTP    HTTPConfig
	Logger  *slog.Logger
}

type entry struct {
	fn   Func
	desc string
}

// Registry maps node types to runners and implements engine.RunnerResolver.
// Every resolved runner interpolates parameters and credentials before the
// type-specific function is called. Unknown types resolve to a runner that
// fails the node.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]entry

	engines *expressions.Engines
	interp  *expressions.Interpolator
	vault   secrets.Vault
	http    HTTPConfig
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Engines == nil {
		engines, err := expressions.NewEngines()
		if err != nil {
			return nil, err
		}
		opts.Engines = engines
	}
	return &Registry{
		runners: make(map[string]entry),
		engines: opts.Engines,
		interp:  expressions.NewInterpolator(opts.Engines.Expr, opts.Logger),
		vault:   opts.Vault,
		http:    opts.HTTP.withDefaults(),
		logger:  opts.Logger,
	}, nil
}

// NewDefaultRegistry creates a Registry with every built-in node type.
func NewDefaultRegistry(opts Options) (*Registry, error) {
	r, err := NewRegistry(opts)
	if err != nil {
		return nil, err
	}
	if err := RegisterBuiltins(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds a runner for nodeType. Returns error on duplicate type.
func (r *Registry) Register(nodeType, description string, fn Func) error {
	if nodeType == "" {
		return schema.NewError(schema.ErrCodeValidation, "runner type is empty")
	}
	if fn == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "runner for %q is nil", nodeType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runners[nodeType]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "runner %q already registered", nodeType)
	}
	r.runners[nodeType] = entry{fn: fn, desc: description}
	return nil
}

// Has checks if a node type is registered.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.runners[nodeType]
	return ok
}

// List returns every registered type, sorted.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.runners))
	for t, e := range r.runners {
		infos = append(infos, Info{Type: t, Description: e.desc})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Type < infos[j].Type })
	return infos
}

// Conditions returns a guard evaluator sharing the registry's engines and vault.
func (r *Registry) Conditions() *expressions.Conditions {
	return expressions.NewConditions(r.engines, r.secretLookup(), r.logger)
}

// Resolve implements engine.RunnerResolver.
func (r *Registry) Resolve(nodeType string) engine.Runner {
	r.mu.RLock()
	e, ok := r.runners[nodeType]
	r.mu.RUnlock()
	if !ok {
		return engine.RunnerFunc(func(ctx context.Context, node *schema.NodeDefinition, nctx *engine.NodeContext) (*engine.Outcome, error) {
			call, err := r.prepare(ctx, node, nctx)
			if err != nil {
				return nil, err
			}
			return failed(call, "no runner registered for type %q", nodeType), nil
		})
	}
	return engine.RunnerFunc(func(ctx context.Context, node *schema.NodeDefinition, nctx *engine.NodeContext) (*engine.Outcome, error) {
		call, err := r.prepare(ctx, node, nctx)
		if err != nil {
			return nil, err
		}
		out, err := e.fn(ctx, call)
		if out != nil && out.Inputs == nil {
			out.Inputs = call.Params
		}
		return out, err
	})
}

// prepare interpolates params and resolves credentials for one call.
func (r *Registry) prepare(ctx context.Context, node *schema.NodeDefinition, nctx *engine.NodeContext) (*Call, error) {
	scope := expressions.ScopeFrom(ctx, nctx, r.secretLookup())
	call := &Call{
		Node:   node,
		Params: r.interp.ResolveParams(ctx, node.Parameters, scope),
		Scope:  scope,
		Ctx:    nctx,
	}

	creds := map[string]any{}
	if node.CredentialID != "" {
		stored, err := secrets.Credential(ctx, r.vault, node.CredentialID)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeSecret, "resolve credential %q: %s", node.CredentialID, err.Error()).
				WithNode(node.Name).WithCause(err)
		}
		maps.Copy(creds, stored)
	}
	maps.Copy(creds, r.interp.ResolveParams(ctx, node.Credentials, scope))
	call.Credentials = creds
	return call, nil
}

func (r *Registry) secretLookup() expressions.SecretLookup {
	if r.vault == nil {
		return nil
	}
	return func(ctx context.Context, key string) (string, error) {
		return secrets.Text(ctx, r.vault, key)
	}
}

// RegisterBuiltins registers every built-in node type on r.
func RegisterBuiltins(r *Registry) error {
	builtins := []struct {
		types []string
		desc  string
		fn    Func
	}{
		{[]string{schema.NodeTypeManual}, "Manual trigger: outputs its parameters and the trigger payload", runManual},
		{[]string{schema.NodeTypeWebhook}, "Webhook trigger: outputs its parameters and the HTTP request", runWebhook},
		{[]string{schema.NodeTypeTimer}, "Timer trigger: outputs its parameters when the schedule fires", runTimer},
		{[]string{"wait"}, "Sleep for `seconds`", runWait},
		{[]string{"interaction"}, "Pause the run until a human submits the requested fields", runInteraction},
		{[]string{"response"}, "Set the HTTP response returned to a synchronous caller", runResponse},
		{[]string{"if", "condition"}, "Pass-through marker for conditional branches", runCondition},
		{[]string{"switch"}, "Pass-through marker exposing `value` for branch guards", runSwitch},
		{[]string{"loop", "foreach"}, "Expose `items` and their count", runLoop},
		{[]string{"default"}, "Echo the resolved parameters", runDefault},
		{[]string{"http"}, "Perform an HTTP request", r.runHTTP},
		{[]string{"transform"}, "Reshape data with a jq query", r.runTransform},
		{[]string{"expr"}, "Evaluate an expression against the node scope", r.runExpr},
		{[]string{"mysql"}, "Run a MySQL query or statement", runMySQL},
	}
	for _, b := range builtins {
		for _, t := range b.types {
			if err := r.Register(t, b.desc, b.fn); err != nil {
				return fmt.Errorf("register %s: %w", t, err)
			}
		}
	}
	return nil
}

var _ engine.RunnerResolver = (*Registry)(nil)
