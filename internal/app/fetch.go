package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"packstash/internal/adapters"
	"packstash/internal/core"
	"packstash/internal/ports"
	"packstash/internal/resolvers/cargo"
	"packstash/internal/resolvers/gomod"
	"packstash/internal/resolvers/npm"
	"packstash/internal/resolvers/pip"
	"packstash/internal/resolvers/rpm"
	"packstash/internal/resolvers/rubygems"
	"packstash/internal/resolvers/yarn"
	"packstash/internal/types"
)

// Fetch runs one Project Request end to end: resolve, fetch into the
// cache, write the output document, and optionally apply config edits and
// render an SBOM. The output document is written even when some
// ecosystems failed, so partial results stay inspectable.
func (s Service) Fetch(ctx context.Context, req FetchRequest) (FetchResult, error) {
	projectDir := strings.TrimSpace(req.ProjectDir)
	if projectDir == "" {
		return FetchResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("project directory is required")
	}
	if info, err := os.Stat(projectDir); err != nil || !info.IsDir() {
		return FetchResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("project directory does not exist: " + projectDir)
	}
	outputDir := strings.TrimSpace(req.OutputDir)
	if outputDir == "" {
		return FetchResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("output directory is required")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return FetchResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create output directory").
			WithCause(err)
	}
	cacheDir := strings.TrimSpace(req.CacheDir)
	if cacheDir == "" {
		cacheDir = filepath.Join(outputDir, "deps")
	}

	cache, err := adapters.NewFSCacheAdapter(cacheDir)
	if err != nil {
		return FetchResult{}, err
	}
	fetcher, err := adapters.NewHTTPFetchAdapter(cache, adapters.TLSOptions{
		CertFile: req.TLSCertFile,
		KeyFile:  req.TLSKeyFile,
		CAFile:   req.TLSCAFile,
	}, 0, req.MaxRetries)
	if err != nil {
		return FetchResult{}, err
	}

	selections, err := buildSelections(req)
	if err != nil {
		return FetchResult{}, err
	}

	orchestrator := core.NewOrchestrator(buildResolvers(req, fetcher), cache, s.Version)
	orchestrator.Clock = s.Clock
	output, runErr := orchestrator.Run(ctx, types.ProjectRequest{
		ProjectDir: projectDir,
		OutputDir:  outputDir,
		Ecosystems: selections,
	})
	if runErr != nil && len(output.Reports) == 0 && output.RunID == "" {
		return FetchResult{}, runErr
	}

	outputPath, err := adapters.NewOutputFileAdapter(outputDir).WriteOutput(output)
	if err != nil {
		return FetchResult{}, err
	}

	result := FetchResult{
		RunID:      output.RunID,
		OutputPath: outputPath,
		Collisions: output.Collisions,
	}
	for _, report := range output.Reports {
		result.Components += len(report.Components)
		result.Failures += len(report.Failures)
	}

	if req.ApplyEdits && runErr == nil {
		if err := s.ConfigInjector.Apply(output.FileEdits); err != nil {
			return result, err
		}
		log.Ctx(ctx).Info().Int("edits", len(output.FileEdits)).Msg("config edits applied")
	}
	if req.SBOM && runErr == nil {
		sbomPath, err := s.SBOMWriter.WriteSBOM(outputDir, output)
		if err != nil {
			return result, err
		}
		result.SBOMPath = sbomPath
	}
	return result, runErr
}

// buildSelections turns the request's ecosystem names into forced
// selections, or into the full auto-detected set when none were named.
func buildSelections(req FetchRequest) ([]types.EcosystemSelection, error) {
	options := types.EcosystemOptions{
		AllowBinary:          req.AllowBinary,
		IncludeDev:           req.IncludeDev,
		TrustComputedDigests: req.TrustComputedDigests,
		MaxWorkers:           req.MaxWorkers,
	}
	if len(req.Ecosystems) == 0 {
		selections := make([]types.EcosystemSelection, 0, len(types.AllEcosystems))
		for _, ecosystem := range types.AllEcosystems {
			selections = append(selections, types.EcosystemSelection{Ecosystem: ecosystem, Options: options})
		}
		return selections, nil
	}

	known := map[types.Ecosystem]struct{}{}
	for _, ecosystem := range types.AllEcosystems {
		known[ecosystem] = struct{}{}
	}
	var selections []types.EcosystemSelection
	for _, name := range req.Ecosystems {
		ecosystem := types.Ecosystem(strings.ToLower(strings.TrimSpace(name)))
		if _, ok := known[ecosystem]; !ok {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("unknown ecosystem: " + name)
		}
		selections = append(selections, types.EcosystemSelection{
			Ecosystem: ecosystem,
			Forced:    true,
			Options:   options,
		})
	}
	return selections, nil
}

func buildResolvers(req FetchRequest, fetcher ports.FetchPort) map[types.Ecosystem]ports.ResolverPort {
	pipResolver := pip.New(fetcher)
	if url := strings.TrimSpace(req.PipIndexURL); url != "" {
		pipResolver.IndexURL = strings.TrimSuffix(url, "/")
	}
	gomodResolver := gomod.New(fetcher)
	if proxy := strings.TrimSpace(req.GoProxy); proxy != "" {
		gomodResolver.Proxy = proxy
	}
	return map[types.Ecosystem]ports.ResolverPort{
		types.EcosystemPip:      pipResolver,
		types.EcosystemNpm:      npm.New(fetcher),
		types.EcosystemYarn:     yarn.New(fetcher),
		types.EcosystemGomod:    gomodResolver,
		types.EcosystemRubygems: rubygems.New(fetcher),
		types.EcosystemCargo:    cargo.New(fetcher),
		types.EcosystemRPM:      rpm.New(fetcher),
	}
}
