package types

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestGraphAddDeduplicatesDiamonds(t *testing.T) {
	graph := NewDependencyGraph(EcosystemNpm)
	first := graph.Add(&DependencyNode{
		Identity: Identity{Name: "left-pad", Version: "1.3.0"},
		Role:     RoleTransitive,
		Requires: []string{"a@1"},
	})
	second := graph.Add(&DependencyNode{
		Identity: Identity{Name: "left-pad", Version: "1.3.0"},
		Role:     RoleDirect,
		Requires: []string{"a@1", "b@2"},
	})

	require.Same(t, first, second)
	require.Equal(t, 1, graph.Len())
	require.Equal(t, RoleDirect, first.Role)
	if diff := cmp.Diff([]string{"a@1", "b@2"}, first.Requires); diff != "" {
		t.Fatalf("unexpected requires (-want +got):\n%s", diff)
	}
}

func TestGraphWalkTerminatesOnCycle(t *testing.T) {
	graph := NewDependencyGraph(EcosystemRubygems)
	a := graph.Add(&DependencyNode{Identity: Identity{Name: "actionpack", Version: "7.0.0"}})
	b := graph.Add(&DependencyNode{Identity: Identity{Name: "actionview", Version: "7.0.0"}})
	require.NoError(t, graph.AddEdge(a.Key(), b.Key()))
	require.NoError(t, graph.AddEdge(b.Key(), a.Key()))

	var visited []string
	require.NoError(t, graph.Walk(func(node *DependencyNode) error {
		visited = append(visited, node.Identity.Name)
		return nil
	}))
	require.Equal(t, []string{"actionpack", "actionview"}, visited)
}

func TestGraphAddEdgeRequiresArenaNodes(t *testing.T) {
	graph := NewDependencyGraph(EcosystemPip)
	node := graph.Add(&DependencyNode{Identity: Identity{Name: "requests", Version: "2.31.0"}})

	require.Error(t, graph.AddEdge(node.Key(), "missing@1.0"))
	require.Error(t, graph.AddEdge("missing@1.0", node.Key()))

	// Self-edges are dropped silently.
	require.NoError(t, graph.AddEdge(node.Key(), node.Key()))
	require.Empty(t, node.Requires)
}

func TestGraphNodesPreserveInsertionOrder(t *testing.T) {
	graph := NewDependencyGraph(EcosystemCargo)
	graph.Add(&DependencyNode{Identity: Identity{Name: "serde", Version: "1.0.188"}})
	graph.Add(&DependencyNode{Identity: Identity{Name: "anyhow", Version: "1.0.75"}})
	graph.Add(&DependencyNode{Identity: Identity{Name: "serde", Version: "1.0.188"}})

	var names []string
	for _, node := range graph.Nodes() {
		names = append(names, node.Identity.Name)
	}
	require.Equal(t, []string{"serde", "anyhow"}, names)
}
