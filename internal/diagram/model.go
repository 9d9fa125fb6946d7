// Package diagram renders workflow graphs as Mermaid, ASCII or images.
package diagram

// NodeKind classifies a diagram node by its node type.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindAction    NodeKind = "action"
	NodeKindCondition NodeKind = "condition"
	NodeKindLoop      NodeKind = "loop"
	NodeKindWait      NodeKind = "wait"
	NodeKindInput     NodeKind = "input"
	NodeKindResponse  NodeKind = "response"
)

// Model is the intermediate representation shared by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is one workflow node.
type Node struct {
	ID     string
	Label  string
	Type   string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the run state of a node.
type StatusOverlay struct {
	Status     string // schema.ExecutionStatus, or "waiting"
	DurationMs int64
	Error      string
}

// Edge is one connection rule. Guarded edges only fire when their When
// guards pass.
type Edge struct {
	From    string
	To      string
	Label   string
	Guarded bool
}

// Node returns the node with the given ID, or nil.
func (m *Model) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
