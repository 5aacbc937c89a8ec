package graphutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopologicalOrderAcyclic(t *testing.T) {
	g := New()
	for _, id := range []string{"a", "b", "c"} {
		g.AddNode(id)
	}
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")

	order, acyclic := g.TopologicalOrder()
	assert.True(t, acyclic)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestHasCycleDetectsLoop(t *testing.T) {
	g := New()
	for _, id := range []string{"a", "b"} {
		g.AddNode(id)
	}
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")

	assert.True(t, g.HasCycle())
}

func TestReachableAndUnreached(t *testing.T) {
	g := New()
	for _, id := range []string{"start", "a", "orphan"} {
		g.AddNode(id)
	}
	g.AddEdge("start", "a")

	reached := g.Reachable("start")
	assert.True(t, reached["start"])
	assert.True(t, reached["a"])
	assert.False(t, reached["orphan"])

	unreached := g.Unreached(reached)
	assert.Equal(t, []string{"orphan"}, unreached)
}

func TestBackEdgesFindsLoopClosingEdge(t *testing.T) {
	g := New()
	for _, id := range []string{"start", "job", "check"} {
		g.AddNode(id)
	}
	g.AddEdge("start", "job")
	g.AddEdge("job", "check")
	g.AddEdge("check", "job") // loop back to retry job

	back := g.BackEdges()
	assert.Equal(t, []Edge{{From: "check", To: "job"}}, back)
}
