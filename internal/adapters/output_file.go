package adapters

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"packstash/internal/types"
)

// OutputDocumentName is the machine-readable Request Output document
// consumed by the downstream SBOM generator and the env/config tooling.
const OutputDocumentName = "packstash-output.json"

type OutputFileAdapter struct {
	Dir string
}

func NewOutputFileAdapter(dir string) OutputFileAdapter {
	return OutputFileAdapter{Dir: dir}
}

func (a OutputFileAdapter) WriteOutput(output types.RequestOutput) (string, error) {
	if strings.TrimSpace(a.Dir) == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("output directory is empty")
	}
	if err := os.MkdirAll(a.Dir, 0755); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create output directory").
			WithCause(err)
	}
	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to marshal request output").
			WithCause(err)
	}
	path := filepath.Join(a.Dir, OutputDocumentName)
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write request output").
			WithCause(err)
	}
	return path, nil
}
