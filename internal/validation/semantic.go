package validation

import (
	"errors"
	"fmt"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

// validateSemantic checks what the JSON Schema cannot: unique node names,
// connection endpoints, guard syntax, runner availability and trigger setup.
func validateSemantic(def *schema.WorkflowDefinition, types TypeLookup, guards GuardCompiler) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if len(def.Nodes) == 0 {
		result.AddError("nodes", schema.ErrCodeValidation, "workflow has no nodes")
		return result
	}

	names := make(map[string]bool, len(def.Nodes))
	hasTrigger := false
	for i, n := range def.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if n.Name == "" {
			result.AddError(path+".name", schema.ErrCodeValidation, "node name is empty")
			continue
		}
		if names[n.Name] {
			result.AddError(path+".name", schema.ErrCodeValidation, fmt.Sprintf("duplicate node name %q", n.Name))
		}
		names[n.Name] = true

		if n.Type == "" {
			result.AddError(path+".type", schema.ErrCodeValidation, fmt.Sprintf("node %q has no type", n.Name))
			continue
		}
		if types != nil && !types.Has(n.Type) {
			result.AddWarning(path+".type", schema.ErrCodeValidation,
				fmt.Sprintf("no runner registered for type %q; node %q will fail", n.Type, n.Name))
		}
		if schema.IsTriggerType(n.Type) {
			hasTrigger = true
		}
		if n.Type == schema.NodeTypeTimer && n.Parameters["cron"] == nil && n.Parameters["secondsInterval"] == nil {
			result.AddWarning(path+".parameters", schema.ErrCodeValidation,
				fmt.Sprintf("timer %q has neither cron nor secondsInterval and will never be scheduled", n.Name))
		}
	}
	if !hasTrigger {
		result.AddWarning("nodes", schema.ErrCodeValidation,
			fmt.Sprintf("workflow has no trigger node; traversal starts at %q", def.Nodes[0].Name))
	}

	for src, groups := range def.Connections {
		srcPath := fmt.Sprintf("connections[%s]", src)
		if !names[src] {
			result.AddError(srcPath, schema.ErrCodeValidation, fmt.Sprintf("connection source %q is not a node", src))
		}
		for g, group := range groups {
			for r, rule := range group {
				rulePath := fmt.Sprintf("%s[%d][%d]", srcPath, g, r)
				switch {
				case rule.Node == "":
					result.AddError(rulePath+".node", schema.ErrCodeValidation, "connection target is empty")
				case !names[rule.Node]:
					result.AddError(rulePath+".node", schema.ErrCodeValidation,
						fmt.Sprintf("connection target %q is not a node", rule.Node))
				case rule.Node == src:
					result.AddWarning(rulePath+".node", schema.ErrCodeValidation,
						fmt.Sprintf("node %q connects to itself; a node runs at most once per run", src))
				}
				if guards == nil {
					continue
				}
				for w, guard := range rule.When {
					if err := guards.Compile(guard); err != nil {
						result.AddError(fmt.Sprintf("%s.when[%d]", rulePath, w), schema.ErrCodeValidation,
							fmt.Sprintf("guard does not compile: %s", errText(err)))
					}
				}
			}
		}
	}
	return result
}

func errText(err error) string {
	var ge *schema.GflowError
	if errors.As(err, &ge) {
		return ge.Message
	}
	return err.Error()
}
