package ports

import (
	"context"

	"packstash/internal/types"
)

// ResolverPort is the shared capability set every ecosystem variant
// implements. The orchestrator stays ecosystem-agnostic: it selects
// resolvers from a registry keyed by ecosystem name and only ever talks
// through this interface.
type ResolverPort interface {
	// Name identifies the ecosystem this resolver handles.
	Name() types.Ecosystem

	// Applies reports whether the project directory carries manifests this
	// ecosystem understands. Used for auto-detection; forced selections
	// skip it.
	Applies(projectDir string) bool

	// Resolve parses manifests and lockfiles into the full direct plus
	// transitive dependency graph without executing any project-provided
	// code. Resolution is derived from declarative inputs alone; anything
	// that would require running untrusted code fails with a
	// ResolutionError instead.
	Resolve(ctx context.Context, projectDir string, opts types.EcosystemOptions) (*types.DependencyGraph, error)

	// FetchAll fetches every node of the graph not already cached and
	// returns the ecosystem's component report in deterministic graph
	// order. Partial failure returns a PartialFetchError carrying the full
	// fetched/missing split; cache entries already written stay valid.
	FetchAll(ctx context.Context, graph *types.DependencyGraph, opts types.EcosystemOptions) (types.EcosystemReport, error)
}
