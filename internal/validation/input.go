package validation

import (
	"encoding/json"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

// InputSchema builds a JSON Schema for the form an interaction node publishes.
// Field types map as follows: number and boolean keep their JSON type, date
// and email are format-checked strings, select is an enum of its options, and
// everything else is a string. Required string fields must be non-empty.
func InputSchema(cfg *schema.PendingInputConfig) []byte {
	props := make(map[string]any)
	required := []string{}
	if cfg != nil {
		for _, f := range cfg.Fields {
			if f.Key == "" {
				continue
			}
			prop := fieldSchema(f)
			if f.Required {
				required = append(required, f.Key)
				if prop["type"] == "string" {
					prop["minLength"] = 1
				}
			}
			props[f.Key] = prop
		}
	}
	doc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
		"required":   required,
	}
	b, _ := json.Marshal(doc)
	return b
}

func fieldSchema(f schema.InputField) map[string]any {
	switch f.Type {
	case "number":
		return map[string]any{"type": "number"}
	case "boolean", "checkbox":
		return map[string]any{"type": "boolean"}
	case "date":
		return map[string]any{"type": "string", "format": "date"}
	case "email":
		return map[string]any{"type": "string", "format": "email"}
	case "select":
		if values := optionValues(f.Options); len(values) > 0 {
			return map[string]any{"enum": values}
		}
	}
	return map[string]any{"type": "string"}
}

// optionValues accepts plain values or {label, value} objects.
func optionValues(options []any) []any {
	values := make([]any, 0, len(options))
	for _, opt := range options {
		if m, ok := opt.(map[string]any); ok {
			if v, ok := m["value"]; ok {
				values = append(values, v)
			}
			continue
		}
		values = append(values, opt)
	}
	return values
}

// ValidateInput checks data against the form described by cfg.
func (v *JSONSchemaValidator) ValidateInput(cfg *schema.PendingInputConfig, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	return v.ValidateAgainst(data, InputSchema(cfg))
}
