package validation

import (
	"fmt"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

// validateReachability warns about nodes no path from an entry node reaches.
// Guards are ignored: an edge counts if it exists. Cycles are legal since
// traversal runs each node at most once.
func validateReachability(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	entries := def.EntryNodes(nil)
	reachable := make(map[string]bool, len(def.Nodes))
	queue := make([]string, 0, len(def.Nodes))
	for _, name := range entries {
		reachable[name] = true
		queue = append(queue, name)
	}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, rule := range def.Rules(node) {
			if !reachable[rule.Node] {
				reachable[rule.Node] = true
				queue = append(queue, rule.Node)
			}
		}
	}

	for i, n := range def.Nodes {
		if !reachable[n.Name] {
			result.AddWarning(fmt.Sprintf("nodes[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("node %q is unreachable from any entry node", n.Name))
		}
	}
	return result
}
