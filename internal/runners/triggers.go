package runners

import (
	"context"

	"github.com/gw123/gflow-sub001/internal/engine"
)

// Trigger nodes start a run. Their output is what downstream nodes see under
// $P, so the trigger payload is merged in alongside the parameters.

func runManual(_ context.Context, call *Call) (*engine.Outcome, error) {
	call.Logf("Manual trigger fired")
	out := withParams(call.Params, call.Ctx.TriggerData)
	out["triggeredAt"] = timestamp()
	return succeeded(call, out), nil
}

func runWebhook(_ context.Context, call *Call) (*engine.Outcome, error) {
	call.Logf("Webhook Triggered: %s %s", stringParam(call.Params, "httpMethod", "POST"), stringParam(call.Params, "path", "/"))
	out := withParams(call.Params, call.Ctx.TriggerData)
	out["triggered"] = true
	out["triggeredAt"] = timestamp()
	return succeeded(call, out), nil
}

func runTimer(_ context.Context, call *Call) (*engine.Outcome, error) {
	if cron := stringParam(call.Params, "cron", ""); cron != "" {
		call.Logf("Timer triggered: %s", cron)
	} else {
		call.Logf("Timer triggered interval: %ds", intParam(call.Params, "secondsInterval", 0))
	}
	out := withParams(call.Params, call.Ctx.TriggerData)
	out["triggeredAt"] = timestamp()
	return succeeded(call, out), nil
}
