package domain

// WorkflowGraph is a submitted workflow: typed nodes joined by directed edges.
type WorkflowGraph struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// Node is a single typed unit of work. Config is opaque to the engine and
// belongs to the executor registered for Type.
type Node struct {
	ID             string         `json:"id" yaml:"id"`
	Type           string         `json:"type" yaml:"type"`
	Config         map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	TimeoutSeconds int            `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
}

// Edge is a directed dependency from Source to Target.
type Edge struct {
	ID           string `json:"id" yaml:"id"`
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`
}

// Node returns the node with the given id.
func (g *WorkflowGraph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// NodeTypes returns the distinct node types in declaration order.
func (g *WorkflowGraph) NodeTypes() []string {
	seen := make(map[string]bool, len(g.Nodes))
	types := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if !seen[n.Type] {
			seen[n.Type] = true
			types = append(types, n.Type)
		}
	}
	return types
}

// Clone returns a deep copy of the graph. Config maps are copied one level deep.
func (g *WorkflowGraph) Clone() *WorkflowGraph {
	if g == nil {
		return nil
	}
	out := &WorkflowGraph{
		ID:    g.ID,
		Name:  g.Name,
		Nodes: make([]Node, len(g.Nodes)),
		Edges: make([]Edge, len(g.Edges)),
	}
	for i, n := range g.Nodes {
		n.Config = copyMap(n.Config)
		out.Nodes[i] = n
	}
	copy(out.Edges, g.Edges)
	return out
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
