package expressions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gw123/gflow-sub001/internal/engine"
)

// Conditions evaluates connection guards. A guard is one of:
//
//   - nil, "", true or "true": passes
//   - false or "false": fails
//   - a string expression, optionally "=" prefixed or wrapped in {{ }}, and
//     optionally prefixed with "cel:", "jq:" or "expr:" to pick a language
//   - a map {"language": ..., "expression": ...}
//
// The guard passes when the result is truthy. Evaluation errors fail the guard.
type Conditions struct {
	engines *Engines
	secrets SecretLookup
	logger  *slog.Logger
}

// NewConditions creates a guard evaluator.
func NewConditions(engines *Engines, secrets SecretLookup, logger *slog.Logger) *Conditions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conditions{engines: engines, secrets: secrets, logger: logger}
}

// Evaluate implements engine.ConditionEvaluator.
func (c *Conditions) Evaluate(ctx context.Context, guard any, nctx *engine.NodeContext) bool {
	lang, code, literal, isLiteral := parseGuard(guard)
	if isLiteral {
		return literal
	}

	ok, err := c.Check(ctx, lang, code, ScopeFrom(ctx, nctx, c.secrets))
	if err != nil {
		c.logger.Debug("guard evaluation failed",
			slog.String("language", lang),
			slog.String("expression", code),
			slog.String("error", err.Error()))
		return false
	}
	return ok
}

// Check evaluates code in lang against scope and reports its truthiness.
func (c *Conditions) Check(ctx context.Context, lang, code string, scope *Scope) (bool, error) {
	eng, err := c.engines.Get(lang)
	if err != nil {
		return false, err
	}
	var out any
	switch eng.Name() {
	case LangExpr:
		out, err = eng.Evaluate(ctx, normalizeOperators(code), scope.ExprEnv())
	default:
		out, err = eng.Evaluate(ctx, code, scope.Vars())
	}
	if err != nil {
		return false, err
	}
	return Truthy(out), nil
}

// Compile reports whether guard parses in its language, without evaluating it.
// Literal guards always compile.
func (c *Conditions) Compile(guard any) error {
	lang, code, _, isLiteral := parseGuard(guard)
	if isLiteral {
		return nil
	}
	eng, err := c.engines.Get(lang)
	if err != nil {
		return err
	}
	switch e := eng.(type) {
	case *ExprEngine:
		return e.Check(normalizeOperators(code), NewScope(nil, nil).ExprEnv())
	case *CELEngine:
		return e.Check(code)
	case *GoJQEngine:
		return e.Check(code)
	}
	return nil
}

// parseGuard splits a guard into language and code, or reports a literal.
func parseGuard(guard any) (lang, code string, literal, isLiteral bool) {
	switch g := guard.(type) {
	case nil:
		return "", "", true, true
	case bool:
		return "", "", g, true
	case map[string]any:
		code, _ = g["expression"].(string)
		lang, _ = g["language"].(string)
		if lang == "" {
			lang, _ = g["lang"].(string)
		}
		if strings.TrimSpace(code) == "" {
			return "", "", true, true
		}
		return lang, strings.TrimSpace(code), false, false
	case string:
		code = strings.TrimSpace(g)
	default:
		code = strings.TrimSpace(fmt.Sprint(g))
	}

	switch code {
	case "", "true":
		return "", "", true, true
	case "false":
		return "", "", false, true
	}
	code = strings.TrimSpace(strings.TrimPrefix(code, "="))
	code = unwrapTemplate(code)
	for _, l := range []string{LangCEL, LangJQ, LangExpr} {
		if rest, ok := strings.CutPrefix(code, l+":"); ok {
			return l, strings.TrimSpace(rest), false, false
		}
	}
	return "", code, false, false
}

var _ engine.ConditionEvaluator = (*Conditions)(nil)
