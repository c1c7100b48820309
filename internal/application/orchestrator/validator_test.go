package orchestrator

import (
	"errors"
	"testing"

	"github.com/mettice/nodeai/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func graphOf(nodes []string, edges ...[2]string) *domain.WorkflowGraph {
	g := &domain.WorkflowGraph{ID: "wf"}
	for _, id := range nodes {
		g.Nodes = append(g.Nodes, domain.Node{ID: id, Type: "passthrough"})
	}
	for i, e := range edges {
		g.Edges = append(g.Edges, domain.Edge{
			ID:     "e" + string(rune('0'+i)),
			Source: e[0],
			Target: e[1],
		})
	}
	return g
}

func validationIssues(t *testing.T, err error) []domain.ValidationIssue {
	t.Helper()
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr), "expected *domain.ValidationError, got %v", err)
	return verr.Issues
}

func TestValidator_AcceptsDAG(t *testing.T) {
	v := NewValidator()
	g := graphOf([]string{"a", "b", "c", "d"}, [2]string{"a", "b"}, [2]string{"a", "c"}, [2]string{"b", "d"}, [2]string{"c", "d"})
	assert.NoError(t, v.Validate(g))
}

func TestValidator_EmptyGraph(t *testing.T) {
	v := NewValidator()

	issues := validationIssues(t, v.Validate(&domain.WorkflowGraph{}))
	require.Len(t, issues, 1)
	assert.Equal(t, domain.IssueEmptyGraph, issues[0].Code)

	issues = validationIssues(t, v.Validate(nil))
	assert.Equal(t, domain.IssueEmptyGraph, issues[0].Code)
}

func TestValidator_ReportsEveryDanglingEdge(t *testing.T) {
	v := NewValidator()
	g := graphOf([]string{"a", "b"}, [2]string{"a", "x"}, [2]string{"y", "b"})

	issues := validationIssues(t, v.Validate(g))
	require.Len(t, issues, 2)
	assert.Equal(t, domain.IssueDanglingEdge, issues[0].Code)
	assert.Equal(t, "e0", issues[0].EdgeID)
	assert.Equal(t, "x", issues[0].MissingNodeID)
	assert.Equal(t, "e1", issues[1].EdgeID)
	assert.Equal(t, "y", issues[1].MissingNodeID)
}

func TestValidator_DuplicateAndMissingIDs(t *testing.T) {
	v := NewValidator()
	g := &domain.WorkflowGraph{Nodes: []domain.Node{{ID: "a"}, {ID: "a"}, {ID: ""}}}

	err := v.Validate(g)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has(domain.IssueDuplicateNode))
	assert.True(t, verr.Has(domain.IssueMissingNodeID))
}

func TestValidator_CyclePath(t *testing.T) {
	v := NewValidator()
	g := graphOf([]string{"a", "b", "c"}, [2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"c", "a"})

	issues := validationIssues(t, v.Validate(g))
	require.Len(t, issues, 1)
	assert.Equal(t, domain.IssueCycleDetected, issues[0].Code)
	assert.Equal(t, []string{"a", "b", "c", "a"}, issues[0].Path)
	assert.Equal(t, "cycle detected: a -> b -> c -> a", issues[0].Message)
}

func TestValidator_SelfLoop(t *testing.T) {
	v := NewValidator()
	g := graphOf([]string{"a"}, [2]string{"a", "a"})

	issues := validationIssues(t, v.Validate(g))
	assert.Equal(t, []string{"a", "a"}, issues[0].Path)
}

func TestValidator_CycleBehindAcyclicPrefix(t *testing.T) {
	v := NewValidator()
	g := graphOf([]string{"start", "a", "b"}, [2]string{"start", "a"}, [2]string{"a", "b"}, [2]string{"b", "a"})

	issues := validationIssues(t, v.Validate(g))
	assert.Equal(t, []string{"a", "b", "a"}, issues[0].Path)
}

func TestValidator_DanglingEdgeSkipsCycleCheck(t *testing.T) {
	v := NewValidator()
	g := graphOf([]string{"a", "b"}, [2]string{"a", "b"}, [2]string{"b", "a"}, [2]string{"b", "ghost"})

	err := v.Validate(g)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has(domain.IssueDanglingEdge))
	assert.False(t, verr.Has(domain.IssueCycleDetected))
}

func TestValidator_LargeChain(t *testing.T) {
	v := NewValidator()
	ids := make([]string, 5000)
	var edges [][2]string
	for i := range ids {
		ids[i] = "n" + itoa(i)
		if i > 0 {
			edges = append(edges, [2]string{ids[i-1], ids[i]})
		}
	}
	assert.NoError(t, v.Validate(graphOf(ids, edges...)))
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	return string(b)
}
