package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

var templatePattern = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// Interpolator resolves expression strings inside node parameters.
//
//   - "=expr" evaluates expr and substitutes the typed result. If evaluation
//     fails the raw string is kept.
//   - "... {{ expr }} ..." substitutes each occurrence as text. Maps and slices
//     are JSON-encoded, nil and failures become "".
//
// Maps and slices are walked recursively. Other values pass through.
type Interpolator struct {
	expr   *ExprEngine
	logger *slog.Logger
}

// NewInterpolator creates an Interpolator evaluating with engine.
func NewInterpolator(engine *ExprEngine, logger *slog.Logger) *Interpolator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpolator{expr: engine, logger: logger}
}

// Resolve returns value with every expression string evaluated.
func (i *Interpolator) Resolve(ctx context.Context, value any, scope *Scope) any {
	switch v := value.(type) {
	case string:
		return i.resolveString(ctx, v, scope)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = i.Resolve(ctx, item, scope)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for idx, item := range v {
			out[idx] = i.Resolve(ctx, item, scope)
		}
		return out
	default:
		return value
	}
}

// ResolveParams resolves a parameter map. A nil map yields an empty one.
func (i *Interpolator) ResolveParams(ctx context.Context, params map[string]any, scope *Scope) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	out, _ := i.Resolve(ctx, params, scope).(map[string]any)
	return out
}

// Eval evaluates a bare Expr expression against scope.
func (i *Interpolator) Eval(ctx context.Context, code string, scope *Scope) (any, error) {
	return i.expr.Evaluate(ctx, normalizeOperators(code), scope.ExprEnv())
}

func (i *Interpolator) resolveString(ctx context.Context, s string, scope *Scope) any {
	raw := strings.TrimSpace(s)

	if strings.HasPrefix(raw, "=") {
		code := unwrapTemplate(strings.TrimSpace(raw[1:]))
		out, err := i.Eval(ctx, code, scope)
		if err != nil {
			i.logger.Debug("interpolation failed", slog.String("expression", code), slog.String("error", err.Error()))
			return raw
		}
		return out
	}

	if !strings.Contains(raw, "{{") {
		return s
	}
	return templatePattern.ReplaceAllStringFunc(raw, func(match string) string {
		code := templatePattern.FindStringSubmatch(match)[1]
		out, err := i.Eval(ctx, code, scope)
		if err != nil {
			i.logger.Debug("interpolation failed", slog.String("expression", code), slog.String("error", err.Error()))
			return ""
		}
		return stringify(out)
	})
}

// HasTemplate reports whether v (or anything nested in it) needs resolving.
func HasTemplate(v any) bool {
	switch val := v.(type) {
	case string:
		raw := strings.TrimSpace(val)
		return strings.HasPrefix(raw, "=") || templatePattern.MatchString(raw)
	case map[string]any:
		for _, item := range val {
			if HasTemplate(item) {
				return true
			}
		}
	case []any:
		for _, item := range val {
			if HasTemplate(item) {
				return true
			}
		}
	}
	return false
}

func unwrapTemplate(code string) string {
	if strings.HasPrefix(code, "{{") && strings.HasSuffix(code, "}}") {
		return strings.TrimSpace(code[2 : len(code)-2])
	}
	return code
}

// normalizeOperators maps strict (in)equality, common in hand-written
// workflow files, onto Expr's operators.
func normalizeOperators(code string) string {
	if !strings.Contains(code, "==") {
		return code
	}
	code = strings.ReplaceAll(code, "!==", "!=")
	return strings.ReplaceAll(code, "===", "==")
}

// stringify renders a value for text substitution.
func stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.RawMessage:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// Truthy applies loose truthiness: nil, false, zero, NaN and "" are false,
// everything else (including empty maps and slices) is true.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case int32:
		return val != 0
	case uint:
		return val != 0
	case uint64:
		return val != 0
	case float32:
		return val != 0 && val == val
	case float64:
		return val != 0 && val == val
	default:
		return true
	}
}
