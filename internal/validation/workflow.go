package validation

import (
	"encoding/json"
	"errors"

	"gopkg.in/yaml.v3"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

// WorkflowValidator orchestrates the validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (names, connections, guards, runner types)
// 3. Reachability (warnings only)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	types      TypeLookup
	guards     GuardCompiler
}

// NewWorkflowValidator creates a WorkflowValidator. types and guards may be
// nil to skip runner and guard checks.
func NewWorkflowValidator(types TypeLookup, guards GuardCompiler) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv, types: types, guards: guards}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit the later stages.
func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return r
	}

	result := structural(wv.jsonSchema.ValidateDefinition(def))
	if !result.Valid() {
		return result
	}
	return wv.validateDecoded(def, result)
}

// ValidateSource decodes a workflow file and validates it. The raw document is
// checked against the schema before decoding, so misplaced keys inside
// connection rules are reported instead of silently dropped. The definition is
// nil when the source cannot be decoded.
func (wv *WorkflowValidator) ValidateSource(data []byte, format string) (*schema.WorkflowDefinition, *schema.ValidationResult) {
	result := &schema.ValidationResult{}

	var raw any
	var err error
	switch format {
	case schema.FormatJSON:
		err = json.Unmarshal(data, &raw)
	default:
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, "decode workflow: "+err.Error())
		return nil, result
	}

	result = structural(wv.jsonSchema.ValidateDocument(raw))
	if !result.Valid() {
		return nil, result
	}
	def, err := schema.ParseDefinition(data, format)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, errText(err))
		return nil, result
	}
	return def, wv.validateDecoded(def, result)
}

func (wv *WorkflowValidator) validateDecoded(def *schema.WorkflowDefinition, result *schema.ValidationResult) *schema.ValidationResult {
	result.Merge(validateSemantic(def, wv.types, wv.guards))
	if result.Valid() {
		result.Merge(validateReachability(def))
	}
	return result
}

// ValidateDefinition satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return wv.Validate(def).ToError()
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (wv *WorkflowValidator) ValidateInput(cfg *schema.PendingInputConfig, data map[string]any) error {
	return wv.jsonSchema.ValidateInput(cfg, data)
}

// structural converts a schema error into a ValidationResult, one issue per
// violation.
func structural(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}
	var ge *schema.GflowError
	if !errors.As(err, &ge) {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := ge.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, ge.Message)
	return result
}

var _ Validator = (*WorkflowValidator)(nil)
