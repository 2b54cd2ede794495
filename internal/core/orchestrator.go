package core

import (
	"context"
	"errors"
	"sort"
	"time"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"packstash/internal/ports"
	"packstash/internal/types"
)

// Orchestrator drives one Project Request: it dispatches each requested
// ecosystem's resolver, aggregates failures without aborting siblings, and
// merges the per-ecosystem reports into the Request Output.
type Orchestrator struct {
	Resolvers map[types.Ecosystem]ports.ResolverPort
	Cache     ports.CachePort
	Clock     func() time.Time
	Version   string
}

func NewOrchestrator(resolvers map[types.Ecosystem]ports.ResolverPort, cache ports.CachePort, version string) Orchestrator {
	return Orchestrator{
		Resolvers: resolvers,
		Cache:     cache,
		Clock:     time.Now,
		Version:   version,
	}
}

// Run processes every requested ecosystem in request-declaration order.
// A failure in one ecosystem does not stop the others: all scheduled
// resolvers finish first, then the aggregated OrchestratorError is
// returned together with the output built from whatever succeeded
// (fail-together, not fail-fast).
func (o Orchestrator) Run(ctx context.Context, request types.ProjectRequest) (types.RequestOutput, error) {
	assert.NotEmpty(ctx, request.ProjectDir, "project directory must be set")
	assert.NotEmpty(ctx, request.OutputDir, "output directory must be set")
	if len(request.Ecosystems) == 0 {
		return types.RequestOutput{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("at least one ecosystem must be requested")
	}

	started := o.Clock().UTC()
	output := types.RequestOutput{
		SchemaVersion: 1,
		RunID:         uuid.NewString(),
		Tool:          "packstash " + o.Version,
		StartedAt:     started.Format(time.RFC3339),
		ProjectDir:    request.ProjectDir,
		CacheDir:      o.Cache.Root(),
	}

	var failures []types.EcosystemFailure
	for _, selection := range request.Ecosystems {
		if err := ctx.Err(); err != nil {
			failures = append(failures, types.EcosystemFailure{Ecosystem: selection.Ecosystem, Err: err})
			break
		}
		report, err := o.runEcosystem(ctx, request.ProjectDir, selection)
		if len(report.Components) > 0 || len(report.Failures) > 0 {
			output.Reports = append(output.Reports, report)
		}
		if err != nil {
			log.Ctx(ctx).Error().Str("ecosystem", string(selection.Ecosystem)).Err(err).Msg("ecosystem failed")
			failures = append(failures, types.EcosystemFailure{Ecosystem: selection.Ecosystem, Err: err})
			continue
		}
		log.Ctx(ctx).Info().
			Str("ecosystem", string(selection.Ecosystem)).
			Int("components", len(report.Components)).
			Msg("ecosystem resolved")
	}

	output.Collisions = detectCollisions(output.Reports)
	output.Environment, output.FileEdits = Emit(output, o.Cache.Root(), request.ProjectDir)
	output.FinishedAt = o.Clock().UTC().Format(time.RFC3339)

	if len(failures) > 0 {
		return output, &types.OrchestratorError{Failures: failures}
	}
	return output, nil
}

func (o Orchestrator) runEcosystem(ctx context.Context, projectDir string, selection types.EcosystemSelection) (types.EcosystemReport, error) {
	empty := types.EcosystemReport{Ecosystem: selection.Ecosystem}
	resolver, ok := o.Resolvers[selection.Ecosystem]
	if !ok {
		return empty, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("no resolver registered for ecosystem " + string(selection.Ecosystem))
	}
	if !resolver.Applies(projectDir) {
		if selection.Forced {
			return empty, &types.ResolutionError{
				Ecosystem: selection.Ecosystem,
				Path:      projectDir,
				Reason:    "ecosystem forced but no matching manifests found",
			}
		}
		log.Ctx(ctx).Debug().Str("ecosystem", string(selection.Ecosystem)).Msg("not applicable, skipped")
		return empty, nil
	}

	graph, err := resolver.Resolve(ctx, projectDir, selection.Options)
	if err != nil {
		return empty, err
	}
	report, err := resolver.FetchAll(ctx, graph, selection.Options)
	if err != nil {
		// Partial results stay in the output: the cache entries already
		// written are valid and the report names exactly what is missing.
		var partial *types.PartialFetchError
		if errors.As(err, &partial) {
			return types.EcosystemReport{
				Ecosystem:  selection.Ecosystem,
				Components: partial.Fetched,
				Failures:   partial.Failures,
			}, err
		}
		return empty, err
	}
	return report, nil
}

// detectCollisions finds package names that occur in more than one
// ecosystem. The components stay separate entries; the collision list
// exists so readers of the report notice the overlap.
func detectCollisions(reports []types.EcosystemReport) []types.Collision {
	byName := map[string]map[types.Ecosystem]struct{}{}
	for _, report := range reports {
		for _, component := range report.Components {
			if byName[component.Name] == nil {
				byName[component.Name] = map[types.Ecosystem]struct{}{}
			}
			byName[component.Name][component.Ecosystem] = struct{}{}
		}
	}
	var collisions []types.Collision
	for name, ecosystems := range byName {
		if len(ecosystems) < 2 {
			continue
		}
		collision := types.Collision{Name: name}
		for _, ecosystem := range types.AllEcosystems {
			if _, ok := ecosystems[ecosystem]; ok {
				collision.Ecosystems = append(collision.Ecosystems, ecosystem)
			}
		}
		collisions = append(collisions, collision)
	}
	sort.Slice(collisions, func(i, j int) bool { return collisions[i].Name < collisions[j].Name })
	return collisions
}
