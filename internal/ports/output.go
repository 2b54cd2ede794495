package ports

import "packstash/internal/types"

// OutputWriterPort persists the versioned Request Output document.
type OutputWriterPort interface {
	WriteOutput(output types.RequestOutput) (string, error)
}

// OutputReaderPort loads a previously written Request Output document.
type OutputReaderPort interface {
	ReadOutput(dir string) (types.RequestOutput, error)
}

// SBOMPort renders a Request Output as an SPDX document for downstream
// supply-chain attestation.
type SBOMPort interface {
	WriteSBOM(dir string, output types.RequestOutput) (string, error)
}

// ConfigInjectorPort applies the emitter's file edits to the project.
// Application is idempotent: edits are marker-delimited so re-running a
// request replaces blocks instead of duplicating them.
type ConfigInjectorPort interface {
	Apply(edits []types.FileEdit) error
}
