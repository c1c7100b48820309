package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPlan_Layers(t *testing.T) {
	g := graphOf([]string{"d", "c", "b", "a"},
		[2]string{"a", "b"}, [2]string{"a", "c"}, [2]string{"b", "d"}, [2]string{"c", "d"})

	plan, err := BuildPlan(g)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"c", "b"}, {"d"}}, plan.Layers)
	assert.Equal(t, 2, plan.Layer("d"))
	assert.Equal(t, -1, plan.Layer("missing"))
	assert.Equal(t, 4, plan.Size())
	assert.ElementsMatch(t, []string{"b", "c"}, plan.Dependencies["d"])
}

func TestBuildPlan_IndependentRoots(t *testing.T) {
	plan, err := BuildPlan(graphOf([]string{"x", "y", "z"}))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"x", "y", "z"}}, plan.Layers)
}

func TestBuildPlan_RejectsCycle(t *testing.T) {
	_, err := BuildPlan(graphOf([]string{"a", "b"}, [2]string{"a", "b"}, [2]string{"b", "a"}))
	assert.Error(t, err)
}

func TestPlan_Downstream(t *testing.T) {
	g := graphOf([]string{"a", "b", "c", "d", "e"},
		[2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"b", "d"}, [2]string{"a", "e"})
	plan, err := BuildPlan(g)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"c", "d"}, plan.Downstream("b"))
	assert.Empty(t, plan.Downstream("c"))
}

func TestPlan_Without(t *testing.T) {
	g := graphOf([]string{"a", "b", "c"}, [2]string{"a", "b"}, [2]string{"b", "c"})
	plan, err := BuildPlan(g)
	require.NoError(t, err)

	reduced, err := plan.Without(map[string]bool{"b": true, "c": true})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}}, reduced.Layers)
	assert.Equal(t, 1, reduced.Size())
	assert.Equal(t, []string{"a"}, reduced.Dependencies["b"])
}
