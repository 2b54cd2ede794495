package app

import "packstash/internal/types"

type FetchRequest struct {
	ProjectDir string
	OutputDir  string
	CacheDir   string

	// Ecosystems names the ecosystems to process, in order. Named
	// ecosystems are forced: missing manifests fail instead of skipping.
	// Empty means auto-detect across all known ecosystems.
	Ecosystems []string

	AllowBinary          bool
	IncludeDev           bool
	TrustComputedDigests bool
	MaxWorkers           int

	// PipIndexURL and GoProxy override the default upstream sources.
	PipIndexURL string
	GoProxy     string

	// ApplyEdits writes the emitted config file edits into the project
	// instead of only recording them in the output document.
	ApplyEdits bool

	// SBOM additionally renders an SPDX document next to the output.
	SBOM bool

	TLSCertFile string
	TLSKeyFile  string
	TLSCAFile   string
	MaxRetries  int
}

type FetchResult struct {
	RunID      string
	OutputPath string
	SBOMPath   string
	Components int
	Failures   int
	Collisions []types.Collision
}

type InspectRequest struct {
	OutputDir string
}

type InspectEcosystemSummary struct {
	Ecosystem  types.Ecosystem
	Components int
	Direct     int
	Binary     int
	Failures   []types.FetchFailure
}

type InspectResult struct {
	RunID      string
	Tool       string
	FinishedAt string
	CacheDir   string
	Summaries  []InspectEcosystemSummary
	Collisions []types.Collision
}

type EnvRequest struct {
	OutputDir string
}

type EnvResult struct {
	Assignments []types.EnvAssignment
	FileEdits   []types.FileEdit
}

type SBOMRequest struct {
	OutputDir string
}

type SBOMResult struct {
	Path     string
	Packages int
}
