package runners

import (
	"context"

	"github.com/gw123/gflow-sub001/internal/engine"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

const defaultInteractionDescription = "Please provide the requested information below."

// runInteraction publishes a form and blocks until the host submits data.
func runInteraction(ctx context.Context, call *Call) (*engine.Outcome, error) {
	cfg := schema.PendingInputConfig{
		NodeName:    call.Node.Name,
		Title:       stringParam(call.Params, "title", call.Node.Name),
		Description: stringParam(call.Params, "description", defaultInteractionDescription),
		Fields:      inputFields(call.Params["fields"]),
	}
	if cfg.Title == "" {
		cfg.Title = call.Node.Name
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = []schema.InputField{{Key: "user_input", Label: "Response", Type: "text", Required: true}}
	}

	if !call.Ctx.CanWaitForInput() {
		return failed(call, "execution context does not support user interaction"), nil
	}

	data, err := call.Ctx.WaitForInput(ctx, cfg)
	if err != nil {
		return nil, err
	}
	call.Logf("User input received successfully")

	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return succeeded(call, out), nil
}

// inputFields decodes the `fields` parameter. Entries without a key are dropped.
func inputFields(raw any) []schema.InputField {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	fields := make([]schema.InputField, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		f := schema.InputField{
			Key:      stringParam(m, "key", ""),
			Label:    stringParam(m, "label", ""),
			Type:     stringParam(m, "type", "text"),
			Required: boolParam(m, "required", false),
			Default:  m["default"],
		}
		if f.Key == "" {
			continue
		}
		if f.Label == "" {
			f.Label = f.Key
		}
		f.Options = sliceParam(m, "options")
		fields = append(fields, f)
	}
	return fields
}
