package validation

import "github.com/gw123/gflow-sub001/pkg/schema"

// Validator checks workflow definitions before they are stored or run, and
// human input before it reaches a waiting node.
// Uses JSON Schema Draft 2020-12 for both.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateInput(cfg *schema.PendingInputConfig, data map[string]any) error
}

// TypeLookup reports whether a node type has a runner.
type TypeLookup interface {
	Has(nodeType string) bool
}

// GuardCompiler checks that a connection guard parses, without evaluating it.
type GuardCompiler interface {
	Compile(guard any) error
}
