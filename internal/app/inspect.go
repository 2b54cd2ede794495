package app

import (
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"packstash/internal/types"
)

// Inspect summarizes a previously written output document without
// touching the network or the cache.
func (s Service) Inspect(req InspectRequest) (InspectResult, error) {
	outputDir := strings.TrimSpace(req.OutputDir)
	if outputDir == "" {
		return InspectResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("output directory is required")
	}
	output, err := s.OutputReader.ReadOutput(outputDir)
	if err != nil {
		return InspectResult{}, err
	}

	result := InspectResult{
		RunID:      output.RunID,
		Tool:       output.Tool,
		FinishedAt: output.FinishedAt,
		CacheDir:   output.CacheDir,
		Collisions: output.Collisions,
	}
	for _, report := range output.Reports {
		summary := InspectEcosystemSummary{
			Ecosystem:  report.Ecosystem,
			Components: len(report.Components),
			Failures:   report.Failures,
		}
		for _, component := range report.Components {
			if component.Role == types.RoleDirect {
				summary.Direct++
			}
			if component.Binary {
				summary.Binary++
			}
		}
		result.Summaries = append(result.Summaries, summary)
	}
	return result, nil
}
