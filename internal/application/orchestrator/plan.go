package orchestrator

import (
	"fmt"
	"slices"

	"github.com/mettice/nodeai/pkg/domain"
)

// Plan is the layered execution order of a validated graph. Every node in
// a layer depends only on nodes of earlier layers.
type Plan struct {
	Layers       [][]string
	Dependencies map[string][]string
	Dependents   map[string][]string

	layerOf map[string]int
	order   []string
}

// BuildPlan layers the graph with Kahn's algorithm. Nodes within a layer keep
// their declaration order, so plans are deterministic.
func BuildPlan(g *domain.WorkflowGraph) (*Plan, error) {
	order := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		order[i] = n.ID
	}

	deps := make(map[string][]string, len(order))
	dependents := make(map[string][]string, len(order))
	for _, e := range g.Edges {
		deps[e.Target] = appendUnique(deps[e.Target], e.Source)
		dependents[e.Source] = appendUnique(dependents[e.Source], e.Target)
	}

	return layer(order, deps, dependents, nil)
}

// Without returns a plan over the nodes not in removed, keeping the original
// dependency maps so upstream lookups still see removed nodes.
func (p *Plan) Without(removed map[string]bool) (*Plan, error) {
	return layer(p.order, p.Dependencies, p.Dependents, removed)
}

// Layer returns the layer index of a node, or -1 when the node is not planned.
func (p *Plan) Layer(nodeID string) int {
	if i, ok := p.layerOf[nodeID]; ok {
		return i
	}
	return -1
}

// Downstream returns every node reachable from nodeID, excluding nodeID itself.
func (p *Plan) Downstream(nodeID string) []string {
	seen := map[string]bool{nodeID: true}
	queue := []string{nodeID}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range p.Dependents[cur] {
			if !seen[next] {
				seen[next] = true
				out = append(out, next)
				queue = append(queue, next)
			}
		}
	}
	return out
}

// Size is the number of planned nodes.
func (p *Plan) Size() int {
	return len(p.layerOf)
}

func layer(order []string, deps, dependents map[string][]string, removed map[string]bool) (*Plan, error) {
	inDegree := make(map[string]int, len(order))
	var current []string
	for _, id := range order {
		if removed[id] {
			continue
		}
		n := 0
		for _, d := range deps[id] {
			if !removed[d] {
				n++
			}
		}
		inDegree[id] = n
		if n == 0 {
			current = append(current, id)
		}
	}

	plan := &Plan{
		Dependencies: deps,
		Dependents:   dependents,
		layerOf:      make(map[string]int, len(inDegree)),
		order:        order,
	}

	position := make(map[string]int, len(order))
	for i, id := range order {
		position[id] = i
	}

	for len(current) > 0 {
		idx := len(plan.Layers)
		plan.Layers = append(plan.Layers, current)
		var next []string
		for _, id := range current {
			plan.layerOf[id] = idx
			for _, child := range dependents[id] {
				if removed[child] {
					continue
				}
				inDegree[child]--
				if inDegree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		slices.SortFunc(next, func(a, b string) int { return position[a] - position[b] })
		current = next
	}

	if len(plan.layerOf) != len(inDegree) {
		return nil, fmt.Errorf("graph contains a cycle: planned %d of %d nodes", len(plan.layerOf), len(inDegree))
	}

	return plan, nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
