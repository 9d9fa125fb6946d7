package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a Model as a Mermaid flowchart. Guarded edges are
// dotted.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	ids := mermaidIDs(model)
	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(ids[node.ID], node))
	}

	for _, edge := range model.Edges {
		arrow := "-->"
		if edge.Guarded {
			arrow = "-.->"
		}
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%q|", mermaidEscapeLabel(edge.Label))
		}
		fmt.Fprintf(&b, "    %s %s%s %s\n", ids[edge.From], arrow, label, ids[edge.To])
	}

	b.WriteString("\n")
	b.WriteString("    classDef success fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef error fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef waiting fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef pending fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, node := range model.Nodes {
		if node.Status == nil {
			continue
		}
		if cls := mermaidStatusClass(node.Status.Status); cls != "" {
			fmt.Fprintf(&b, "    class %s %s\n", ids[node.ID], cls)
		}
	}
	return b.String()
}

func mermaidNodeDef(id string, node *Node) string {
	label := mermaidEscapeLabel(firstLine(node.Label))
	if node.Type != "" && node.Type != node.ID {
		label += "<br/>" + mermaidEscapeLabel(node.Type)
	}

	switch node.Kind {
	case NodeKindTrigger:
		return fmt.Sprintf("%s((%q))", id, label)
	case NodeKindCondition:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindLoop:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindWait:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindInput:
		return fmt.Sprintf("%s[/%q/]", id, label)
	case NodeKindResponse:
		return fmt.Sprintf("%s>%q]", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidIDs assigns every node a Mermaid-safe identifier. Node names may
// hold any character, so identifiers are positional.
func mermaidIDs(model *Model) map[string]string {
	ids := make(map[string]string, len(model.Nodes))
	for i, node := range model.Nodes {
		ids[node.ID] = fmt.Sprintf("n%d_%s", i, mermaidSafeID(node.ID))
	}
	return ids
}

func mermaidSafeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// mermaidEscapeLabel replaces quotes, which %q would otherwise escape with a
// backslash Mermaid does not understand.
func mermaidEscapeLabel(s string) string {
	return strings.ReplaceAll(s, `"`, "'")
}

func mermaidStatusClass(status string) string {
	switch status {
	case "success", "error", "running", "waiting", "pending", "skipped":
		return status
	default:
		return ""
	}
}
