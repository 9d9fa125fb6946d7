package runners

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Param helpers shared by the runners. Values come from YAML, JSON or
// expression results, so numbers may arrive as int, int64, float64 or text.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return defaultVal
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case float64, int, int64, bool:
		return fmt.Sprint(s)
	default:
		return defaultVal
	}
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	switch b := m[key].(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func intParam(m map[string]any, key string, defaultVal int) int {
	if f, ok := number(m[key]); ok {
		return int(f)
	}
	return defaultVal
}

func floatParam(m map[string]any, key string, defaultVal float64) float64 {
	if f, ok := number(m[key]); ok {
		return f
	}
	return defaultVal
}

// durationParam accepts a Go duration string ("5s") or a number of seconds.
func durationParam(m map[string]any, key string, defaultVal time.Duration) time.Duration {
	if s, ok := m[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	if f, ok := number(m[key]); ok && f > 0 {
		return time.Duration(f * float64(time.Second))
	}
	return defaultVal
}

// stringMapParam flattens a map of scalars into string values.
func stringMapParam(m map[string]any, key string) map[string]string {
	out := map[string]string{}
	switch v := m[key].(type) {
	case map[string]string:
		for k, s := range v {
			out[k] = s
		}
	case map[string]any:
		for k, item := range v {
			if item == nil {
				continue
			}
			if s, ok := item.(string); ok {
				out[k] = s
			} else {
				out[k] = fmt.Sprint(item)
			}
		}
	}
	return out
}

func sliceParam(m map[string]any, keys ...string) []any {
	for _, key := range keys {
		if v, ok := m[key].([]any); ok {
			return v
		}
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
