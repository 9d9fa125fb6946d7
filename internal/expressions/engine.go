package expressions

import (
	"context"
	"strings"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

// Engine evaluates one expression language against a data map.
// Three implementations: Expr (default for guards and templates), CEL, and GoJQ.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Language names accepted in guard maps and prefixes.
const (
	LangExpr = "expr"
	LangCEL  = "cel"
	LangJQ   = "jq"
)

// Engines bundles the three evaluators so callers share compiled caches.
type Engines struct {
	Expr *ExprEngine
	CEL  *CELEngine
	JQ   *GoJQEngine
}

// NewEngines creates all three evaluators.
func NewEngines() (*Engines, error) {
	cel, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Engines{Expr: NewExprEngine(), CEL: cel, JQ: NewGoJQEngine()}, nil
}

// Get returns the evaluator for lang. The empty string and the editor's
// "js"/"javascript" labels map to Expr.
func (e *Engines) Get(lang string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "", LangExpr, "js", "javascript":
		return e.Expr, nil
	case LangCEL:
		return e.CEL, nil
	case LangJQ:
		return e.JQ, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown expression language %q", lang)
	}
}
