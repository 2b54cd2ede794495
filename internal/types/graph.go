package types

import "fmt"

// DependencyNode is one resolved package in an ecosystem's graph. Edges
// are stored as node keys into the owning graph's arena, so cyclic
// requirements (legal in several ecosystems) are representable without
// pointer cycles.
type DependencyNode struct {
	Identity Identity
	Origin   Origin
	Digests  []Digest
	Class    DepClass
	Role     Role
	Requires []string

	// Filename is the artifact name used for cache layout and offline
	// directory population, e.g. "requests-2.31.0.tar.gz".
	Filename string

	// URL is the exact location the artifact must be fetched from. Empty
	// for local-origin nodes, which are never fetched.
	URL string

	// Binary marks pre-built artifacts (wheels, platform gems) that are
	// only fetched when the request explicitly allows binaries.
	Binary bool

	// Check optionally validates the staged download before cache commit.
	// Used for declared digests that are not plain byte hashes, like the
	// Go module dirhash over zip contents.
	Check func(path string) error

	// TrustComputed marks nodes whose byte-level digest is legitimately
	// computed on first fetch because the declared digest is enforced
	// through Check instead. Set by resolvers, never by options.
	TrustComputed bool
}

// Key is the arena key: one (name, version, qualifiers) identity maps to
// exactly one node per resolution run.
func (n *DependencyNode) Key() string { return n.Identity.String() }

// DependencyGraph is an arena-style directed graph of dependency nodes.
// Nodes live in an indexed map; insertion order is preserved so repeated
// resolutions of the same lockfile walk identically.
type DependencyGraph struct {
	Ecosystem Ecosystem

	nodes map[string]*DependencyNode
	order []string
}

func NewDependencyGraph(ecosystem Ecosystem) *DependencyGraph {
	return &DependencyGraph{
		Ecosystem: ecosystem,
		nodes:     map[string]*DependencyNode{},
	}
}

// Add inserts a node, deduplicating diamond dependencies: a second insert
// of the same identity merges edges and keeps the first node's metadata.
// Returns the arena node for the identity.
func (g *DependencyGraph) Add(node *DependencyNode) *DependencyNode {
	key := node.Key()
	if existing, ok := g.nodes[key]; ok {
		existing.Requires = mergeKeys(existing.Requires, node.Requires)
		if existing.Role == RoleTransitive && node.Role == RoleDirect {
			existing.Role = RoleDirect
		}
		return existing
	}
	g.nodes[key] = node
	g.order = append(g.order, key)
	return node
}

// AddEdge records that from requires to. Both nodes must already be in the
// arena. Self-edges and duplicates are dropped.
func (g *DependencyGraph) AddEdge(from string, to string) error {
	source, ok := g.nodes[from]
	if !ok {
		return fmt.Errorf("graph edge source %q not in arena", from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("graph edge target %q not in arena", to)
	}
	if from == to {
		return nil
	}
	source.Requires = mergeKeys(source.Requires, []string{to})
	return nil
}

// Node returns the arena node for a key, or nil.
func (g *DependencyGraph) Node(key string) *DependencyNode { return g.nodes[key] }

// Len is the number of distinct nodes.
func (g *DependencyGraph) Len() int { return len(g.order) }

// Walk visits every node exactly once in insertion order. Cycles are safe:
// traversal is over the arena index, not the edges, so mutual requirements
// terminate and each node appears once.
func (g *DependencyGraph) Walk(fn func(node *DependencyNode) error) error {
	for _, key := range g.order {
		if err := fn(g.nodes[key]); err != nil {
			return err
		}
	}
	return nil
}

// Nodes returns all nodes in insertion order.
func (g *DependencyGraph) Nodes() []*DependencyNode {
	out := make([]*DependencyNode, 0, len(g.order))
	for _, key := range g.order {
		out = append(out, g.nodes[key])
	}
	return out
}

func mergeKeys(existing []string, extra []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, key := range existing {
		seen[key] = struct{}{}
	}
	for _, key := range extra {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		existing = append(existing, key)
	}
	return existing
}
