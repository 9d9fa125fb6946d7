package runners

import (
	"context"
	"time"

	"github.com/gw123/gflow-sub001/internal/engine"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

// Branching itself happens in connection guards; these nodes only expose
// their resolved parameters for the guards to read.

func runCondition(_ context.Context, call *Call) (*engine.Outcome, error) {
	call.Logf("Condition node executed")
	return succeeded(call, withParams(call.Params, map[string]any{"evaluated": true})), nil
}

func runSwitch(_ context.Context, call *Call) (*engine.Outcome, error) {
	value := call.Params["value"]
	call.Logf("Switch evaluated: %v", value)
	return succeeded(call, map[string]any{"evaluated": true, "value": value}), nil
}

func runLoop(_ context.Context, call *Call) (*engine.Outcome, error) {
	items := sliceParam(call.Params, "items", "array")
	if items == nil {
		items = []any{}
	}
	call.Logf("Loop: %d items", len(items))
	return succeeded(call, map[string]any{"items": items, "count": len(items)}), nil
}

func runDefault(_ context.Context, call *Call) (*engine.Outcome, error) {
	call.Logf("Executed %s node", call.Node.Type)
	return succeeded(call, withParams(call.Params, map[string]any{"nodeType": call.Node.Type})), nil
}

// runWait sleeps for `seconds` (default 1). It returns early with an error
// when ctx ends.
func runWait(ctx context.Context, call *Call) (*engine.Outcome, error) {
	seconds := floatParam(call.Params, "seconds", 1)
	if seconds < 0 {
		seconds = 0
	}
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, schema.NewErrorf(schema.ErrCodeTimeout, "wait interrupted: %s", ctx.Err().Error())
	}
	call.Logf("Waited for %v seconds", seconds)
	return succeeded(call, map[string]any{"waited": seconds, "completedAt": timestamp()}), nil
}
