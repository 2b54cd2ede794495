package adapters

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"packstash/internal/types"
)

type OutputReaderAdapter struct{}

func NewOutputReaderAdapter() OutputReaderAdapter {
	return OutputReaderAdapter{}
}

func (a OutputReaderAdapter) ReadOutput(dir string) (types.RequestOutput, error) {
	path := filepath.Join(dir, OutputDocumentName)
	data, err := os.ReadFile(path)
	if err != nil {
		return types.RequestOutput{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("request output document not found").
			WithCause(err)
	}
	var output types.RequestOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return types.RequestOutput{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("request output document is not valid JSON").
			WithCause(err)
	}
	if output.SchemaVersion != 1 {
		return types.RequestOutput{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("unsupported request output schema version")
	}
	return output, nil
}
