package orchestrator

import (
	"fmt"
	"strings"

	"github.com/mettice/nodeai/pkg/domain"
)

// Validator validates graph structures
type Validator struct{}

// NewValidator creates a new graph validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks that a graph is non-empty, that every edge connects
// existing nodes and that there are no cycles. Structural problems are
// returned as *domain.ValidationError. Cycle detection only runs on graphs
// whose edges all resolve.
func (v *Validator) Validate(g *domain.WorkflowGraph) error {
	if g == nil || len(g.Nodes) == 0 {
		return &domain.ValidationError{Issues: []domain.ValidationIssue{{
			Code:    domain.IssueEmptyGraph,
			Message: "graph must have at least one node",
		}}}
	}

	var issues []domain.ValidationIssue

	nodeIDs := make(map[string]bool, len(g.Nodes))
	for i, node := range g.Nodes {
		if node.ID == "" {
			issues = append(issues, domain.ValidationIssue{
				Code:    domain.IssueMissingNodeID,
				Message: fmt.Sprintf("node at index %d has no id", i),
			})
			continue
		}
		if nodeIDs[node.ID] {
			issues = append(issues, domain.ValidationIssue{
				Code:    domain.IssueDuplicateNode,
				NodeID:  node.ID,
				Message: fmt.Sprintf("duplicate node id: %s", node.ID),
			})
			continue
		}
		nodeIDs[node.ID] = true
	}

	for _, edge := range g.Edges {
		for _, end := range []string{edge.Source, edge.Target} {
			if !nodeIDs[end] {
				issues = append(issues, domain.ValidationIssue{
					Code:          domain.IssueDanglingEdge,
					EdgeID:        edge.ID,
					MissingNodeID: end,
					Message:       fmt.Sprintf("edge %s references non-existent node: %s", edge.ID, end),
				})
			}
		}
	}

	if len(issues) > 0 {
		return &domain.ValidationError{Issues: issues}
	}

	if path := findCycle(g); path != nil {
		return &domain.ValidationError{Issues: []domain.ValidationIssue{{
			Code:    domain.IssueCycleDetected,
			Path:    path,
			Message: "cycle detected: " + strings.Join(path, " -> "),
		}}}
	}

	return nil
}

const (
	white = iota
	gray
	black
)

// findCycle runs an iterative depth-first search with three-colour marking.
// Black nodes are fully explored and never revisited, so the search is
// O(V+E). Reaching a gray node closes a cycle; the returned path starts and
// ends with that node.
func findCycle(g *domain.WorkflowGraph) []string {
	adjacency := make(map[string][]string, len(g.Nodes))
	for _, edge := range g.Edges {
		adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
	}

	color := make(map[string]int, len(g.Nodes))

	type frame struct {
		node string
		next int
	}

	for _, root := range g.Nodes {
		if color[root.ID] != white {
			continue
		}

		stack := []frame{{node: root.ID}}
		color[root.ID] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			children := adjacency[top.node]

			if top.next == len(children) {
				color[top.node] = black
				stack = stack[:len(stack)-1]
				continue
			}

			child := children[top.next]
			top.next++

			switch color[child] {
			case white:
				color[child] = gray
				stack = append(stack, frame{node: child})
			case gray:
				var path []string
				for i := range stack {
					if stack[i].node == child {
						for _, f := range stack[i:] {
							path = append(path, f.node)
						}
						break
					}
				}
				return append(path, child)
			}
		}
	}

	return nil
}
