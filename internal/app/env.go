package app

import (
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// Env re-reads a written output document and returns its environment
// contract, so a build wrapper can export it without re-running the fetch.
func (s Service) Env(req EnvRequest) (EnvResult, error) {
	outputDir := strings.TrimSpace(req.OutputDir)
	if outputDir == "" {
		return EnvResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("output directory is required")
	}
	output, err := s.OutputReader.ReadOutput(outputDir)
	if err != nil {
		return EnvResult{}, err
	}
	return EnvResult{
		Assignments: output.Environment,
		FileEdits:   output.FileEdits,
	}, nil
}
