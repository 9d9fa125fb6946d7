package diagram

import (
	"fmt"
	"strings"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

const maxEdgeLabel = 32

// Build constructs a Model from a workflow definition. When state is non-nil
// each node carries its recorded result as a status overlay.
func Build(def *schema.WorkflowDefinition, state *schema.WorkflowExecutionState) (*Model, error) {
	if def == nil || len(def.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: workflow has no nodes")
	}

	m := &Model{Title: def.Name}
	if m.Title == "" {
		m.Title = "Workflow"
	}
	known := make(map[string]bool, len(def.Nodes))
	for i := range def.Nodes {
		n := &def.Nodes[i]
		known[n.Name] = true
		m.Nodes = append(m.Nodes, &Node{
			ID:    n.Name,
			Label: nodeLabel(n),
			Type:  n.Type,
			Kind:  kindOf(n.Type),
		})
	}

	// Rules pointing at unknown nodes are skipped at run time, so they are
	// not drawn either.
	for i := range def.Nodes {
		src := def.Nodes[i].Name
		for _, rule := range def.Rules(src) {
			if !known[rule.Node] {
				continue
			}
			m.Edges = append(m.Edges, Edge{
				From:    src,
				To:      rule.Node,
				Label:   guardLabel(rule.When),
				Guarded: len(rule.When) > 0,
			})
		}
	}

	m.Levels = levels(def, m.Edges)
	if state != nil {
		overlay(m, state)
	}
	return m, nil
}

func kindOf(nodeType string) NodeKind {
	if schema.IsTriggerType(nodeType) {
		return NodeKindTrigger
	}
	switch nodeType {
	case "if", "condition", "switch":
		return NodeKindCondition
	case "loop", "foreach":
		return NodeKindLoop
	case "wait":
		return NodeKindWait
	case "interaction":
		return NodeKindInput
	case "response":
		return NodeKindResponse
	default:
		return NodeKindAction
	}
}

func nodeLabel(n *schema.NodeDefinition) string {
	if n.Type == "" || n.Type == n.Name {
		return n.Name
	}
	return fmt.Sprintf("%s\n(%s)", n.Name, n.Type)
}

// guardLabel joins string guards with && and shortens the result.
func guardLabel(when []any) string {
	if len(when) == 0 {
		return ""
	}
	parts := make([]string, 0, len(when))
	for _, g := range when {
		if s, ok := g.(string); ok {
			parts = append(parts, strings.TrimSpace(s))
		} else {
			parts = append(parts, fmt.Sprint(g))
		}
	}
	label := strings.Join(parts, " && ")
	if len(label) > maxEdgeLabel {
		label = label[:maxEdgeLabel-3] + "..."
	}
	return label
}

// levels lays nodes out breadth-first from the entry nodes. Nodes that are
// not reachable from any entry form a final level in definition order.
func levels(def *schema.WorkflowDefinition, edges []Edge) [][]string {
	next := make(map[string][]string)
	for _, e := range edges {
		next[e.From] = append(next[e.From], e.To)
	}

	seen := make(map[string]bool, len(def.Nodes))
	var out [][]string
	current := def.EntryNodes(nil)
	for _, n := range current {
		seen[n] = true
	}
	for len(current) > 0 {
		out = append(out, current)
		var level []string
		for _, n := range current {
			for _, to := range next[n] {
				if !seen[to] {
					seen[to] = true
					level = append(level, to)
				}
			}
		}
		current = level
	}

	var rest []string
	for _, n := range def.Nodes {
		if !seen[n.Name] {
			rest = append(rest, n.Name)
		}
	}
	if len(rest) > 0 {
		out = append(out, rest)
	}
	return out
}

func overlay(m *Model, state *schema.WorkflowExecutionState) {
	for _, node := range m.Nodes {
		res, ok := state.NodeResults[node.ID]
		if !ok || res == nil {
			continue
		}
		ov := &StatusOverlay{Status: string(res.Status), Error: res.Error}
		if res.EndTime != nil {
			ov.DurationMs = res.EndTime.Sub(res.StartTime).Milliseconds()
		}
		node.Status = ov
	}
	if cfg := state.PendingInputConfig; state.WaitingForInput && cfg != nil {
		if node := m.Node(cfg.NodeName); node != nil {
			node.Status = &StatusOverlay{Status: "waiting"}
		}
	}
}
