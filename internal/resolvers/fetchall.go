// Package resolvers holds the machinery shared by every ecosystem
// resolver: the bounded fetch worker pool and the projection from
// dependency nodes to component report entries.
package resolvers

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"packstash/internal/ports"
	"packstash/internal/types"
)

// DefaultFetchWorkers bounds in-flight fetches per resolver so remote
// registries are not overwhelmed.
const DefaultFetchWorkers = 5

type fetchResult struct {
	component types.Component
	failure   *types.FetchFailure
}

// FetchGraph fetches every node of a resolved graph through the fetch
// client with a bounded worker pool. Results preserve graph traversal
// order regardless of completion order, so repeated runs against the same
// lockfile produce byte-identical reports.
//
// Per-dependency failures never abort sibling fetches: the full
// fetched/missing split comes back as a PartialFetchError while every
// successfully cached artifact stays cached. Cancellation stops dispatch
// of new fetches; in-flight cache writes complete atomically or not at
// all.
func FetchGraph(ctx context.Context, fetcher ports.FetchPort, graph *types.DependencyGraph, opts types.EcosystemOptions) (types.EcosystemReport, error) {
	nodes := graph.Nodes()
	report := types.EcosystemReport{Ecosystem: graph.Ecosystem}
	if len(nodes) == 0 {
		return report, nil
	}

	workerCount := opts.MaxWorkers
	if workerCount <= 0 {
		workerCount = DefaultFetchWorkers
	}
	if len(nodes) < workerCount {
		workerCount = len(nodes)
	}

	trust := types.TrustPolicyReject
	if opts.TrustComputedDigests {
		trust = types.TrustPolicyFirstUse
	}

	results := make([]fetchResult, len(nodes))
	tasks := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range tasks {
				results[idx] = fetchNode(ctx, fetcher, graph.Ecosystem, nodes[idx], trust)
			}
		}()
	}
dispatch:
	for idx := range nodes {
		select {
		case tasks <- idx:
		case <-ctx.Done():
			for rest := idx; rest < len(nodes); rest++ {
				if results[rest].failure == nil && results[rest].component.Name == "" {
					node := nodes[rest]
					results[rest] = fetchResult{failure: &types.FetchFailure{
						Name:    node.Identity.Name,
						Version: node.Identity.Version,
						Reason:  "canceled before fetch was dispatched",
					}}
				}
			}
			break dispatch
		}
	}
	close(tasks)
	wg.Wait()

	for _, result := range results {
		if result.failure != nil {
			report.Failures = append(report.Failures, *result.failure)
			continue
		}
		report.Components = append(report.Components, result.component)
	}
	if len(report.Failures) > 0 {
		return report, &types.PartialFetchError{
			Ecosystem: graph.Ecosystem,
			Fetched:   report.Components,
			Failures:  report.Failures,
		}
	}
	log.Ctx(ctx).Debug().
		Str("ecosystem", string(graph.Ecosystem)).
		Int("components", len(report.Components)).
		Msg("fetch pool drained")
	return report, nil
}

func fetchNode(ctx context.Context, fetcher ports.FetchPort, ecosystem types.Ecosystem, node *types.DependencyNode, trust types.TrustPolicy) fetchResult {
	component := types.Component{
		Ecosystem:  ecosystem,
		Name:       node.Identity.Name,
		Version:    node.Identity.Version,
		Qualifiers: node.Identity.Qualifiers,
		Purl:       types.Purl(ecosystem, node.Identity.Name, node.Identity.Version, node.Identity.Qualifiers),
		Origin:     node.Origin,
		Role:       node.Role,
		Class:      node.Class,
		Binary:     node.Binary,
	}

	// Local path dependencies are part of the project source; there is
	// nothing to fetch and no registry digest to verify.
	if node.Origin.Kind == types.OriginLocal || node.URL == "" {
		component.DigestSource = types.DigestSourceComputed
		return fetchResult{component: component}
	}

	nodeTrust := trust
	if node.TrustComputed {
		nodeTrust = types.TrustPolicyFirstUse
	}
	entry, err := fetcher.Fetch(ctx, ports.FetchRequest{
		Ecosystem: ecosystem,
		Identity:  node.Identity,
		URL:       node.URL,
		Filename:  node.Filename,
		Expected:  node.Digests,
		Trust:     nodeTrust,
		Check:     node.Check,
	})
	if err != nil {
		var mismatch *types.IntegrityMismatch
		var corruption *types.CacheCorruption
		return fetchResult{failure: &types.FetchFailure{
			Name:      node.Identity.Name,
			Version:   node.Identity.Version,
			URL:       node.URL,
			Reason:    err.Error(),
			Integrity: errors.As(err, &mismatch) || errors.As(err, &corruption),
		}}
	}

	component.Digest = entry.Key.Digest
	component.DigestSource = types.DigestSourceDeclared
	if len(node.Digests) == 0 && node.Check == nil {
		component.DigestSource = types.DigestSourceComputed
	}
	return fetchResult{component: component}
}
