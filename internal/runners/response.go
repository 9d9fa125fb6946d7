package runners

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gw123/gflow-sub001/internal/engine"
)

// runResponse fills the run's response slot. A string body that looks like a
// JSON object or array is decoded first; if decoding fails it stays a string.
func runResponse(_ context.Context, call *Call) (*engine.Outcome, error) {
	call.Logf("Processing response node parameters...")

	body := call.Params["body"]
	statusCode := intParam(call.Params, "status_code", http.StatusOK)
	headers := stringMapParam(call.Params, "headers")

	call.Logf("Response status code: %d", statusCode)
	if len(headers) > 0 {
		b, _ := json.Marshal(headers)
		call.Logf("Response headers: %s", b)
	}

	if s, ok := body.(string); ok {
		trimmed := strings.TrimSpace(s)
		if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
			(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
			var decoded any
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				body = decoded
				call.Logf("Response body parsed from JSON string")
			} else {
				call.Logf("Response body JSON parse failed, keeping string: %s", err.Error())
			}
		}
	}

	call.Ctx.SetResponse(body, statusCode, headers)
	call.Logf("Response context updated")

	return succeeded(call, map[string]any{
		"body":       body,
		"statusCode": statusCode,
		"headers":    headers,
		"captured":   true,
	}), nil
}
