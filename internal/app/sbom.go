package app

import (
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// SBOM renders a previously written output document as an SPDX file in
// the same directory.
func (s Service) SBOM(req SBOMRequest) (SBOMResult, error) {
	outputDir := strings.TrimSpace(req.OutputDir)
	if outputDir == "" {
		return SBOMResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("output directory is required")
	}
	output, err := s.OutputReader.ReadOutput(outputDir)
	if err != nil {
		return SBOMResult{}, err
	}
	path, err := s.SBOMWriter.WriteSBOM(outputDir, output)
	if err != nil {
		return SBOMResult{}, err
	}
	return SBOMResult{Path: path, Packages: len(output.Components())}, nil
}
