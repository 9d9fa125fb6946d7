package schema

// SharedInputKey is the reserved aggregation-map key holding the shallow merge
// of every successful node output.
const SharedInputKey = "$P"

// Built-in trigger node types. Nodes of these types seed the traversal queue.
const (
	NodeTypeManual  = "manual"
	NodeTypeWebhook = "webhook"
	NodeTypeTimer   = "timer"
)

// TriggerTypes lists the node types recognized as workflow entry points.
var TriggerTypes = []string{NodeTypeManual, NodeTypeWebhook, NodeTypeTimer}

// IsTriggerType reports whether nodeType seeds the traversal queue.
func IsTriggerType(nodeType string) bool {
	for _, t := range TriggerTypes {
		if t == nodeType {
			return true
		}
	}
	return false
}

// WorkflowDefinition is the persisted workflow format produced by the editor.
type WorkflowDefinition struct {
	Name        string                   `json:"name" yaml:"name"`
	Description string                   `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []NodeDefinition         `json:"nodes" yaml:"nodes"`
	Global      map[string]any           `json:"global,omitempty" yaml:"global,omitempty"`
	Connections map[string][]BranchGroup `json:"connections,omitempty" yaml:"connections,omitempty"`
}

// NodeDefinition describes a single node in a workflow.
type NodeDefinition struct {
	Name         string         `json:"name" yaml:"name"`
	Type         string         `json:"type" yaml:"type"`
	Desc         string         `json:"desc,omitempty" yaml:"desc,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Credentials  map[string]any `json:"credentials,omitempty" yaml:"credentials,omitempty"`
	CredentialID string         `json:"credential_id,omitempty" yaml:"credential_id,omitempty"`
	Global       map[string]any `json:"global,omitempty" yaml:"global,omitempty"`
}

// BranchGroup is an ordered list of rules. Groups carry the editor's visual
// structure only; traversal flattens them.
type BranchGroup []ConnectionRule

// ConnectionRule links a source node to Node. Every guard in When must pass.
type ConnectionRule struct {
	Node string `json:"node" yaml:"node"`
	When []any  `json:"when,omitempty" yaml:"when,omitempty"`
}

// Node returns the node named name, or nil.
func (w *WorkflowDefinition) Node(name string) *NodeDefinition {
	for i := range w.Nodes {
		if w.Nodes[i].Name == name {
			return &w.Nodes[i]
		}
	}
	return nil
}

// Rules flattens every branch group leaving source into one ordered list.
func (w *WorkflowDefinition) Rules(source string) []ConnectionRule {
	var rules []ConnectionRule
	for _, group := range w.Connections[source] {
		rules = append(rules, group...)
	}
	return rules
}

// EntryNodes returns the names that seed traversal: every trigger-type node in
// definition order, or the first node when none qualify.
func (w *WorkflowDefinition) EntryNodes(isTrigger func(string) bool) []string {
	if isTrigger == nil {
		isTrigger = IsTriggerType
	}
	var names []string
	for _, n := range w.Nodes {
		if isTrigger(n.Type) {
			names = append(names, n.Name)
		}
	}
	if len(names) == 0 && len(w.Nodes) > 0 {
		names = append(names, w.Nodes[0].Name)
	}
	return names
}

// MergedGlobal overlays the node's global overrides on the workflow globals.
func (w *WorkflowDefinition) MergedGlobal(node *NodeDefinition) map[string]any {
	out := make(map[string]any, len(w.Global))
	for k, v := range w.Global {
		out[k] = v
	}
	if node != nil {
		for k, v := range node.Global {
			out[k] = v
		}
	}
	return out
}
