package types

// EcosystemOptions are the per-ecosystem knobs of a Project Request.
type EcosystemOptions struct {
	// AllowBinary permits fetching pre-built artifacts (wheels, platform
	// gems). Source artifacts are always preferred; binaries bypass
	// source-level auditability and are off by default.
	AllowBinary bool

	// IncludeDev includes dev-classified dependencies in the fetch set.
	IncludeDev bool

	// TrustComputedDigests is the explicit trust-on-first-use decision for
	// dependencies whose lockfile declares no digest. When false such
	// dependencies fail resolution.
	TrustComputedDigests bool

	// MaxWorkers bounds in-flight fetches within one resolver. Zero means
	// the resolver default.
	MaxWorkers int
}

// EcosystemSelection names one ecosystem a request wants processed.
// Forced selections skip auto-detection and fail if the project has no
// matching manifests.
type EcosystemSelection struct {
	Ecosystem Ecosystem
	Forced    bool
	Options   EcosystemOptions
}

// ProjectRequest is the immutable root input of one run: where the project
// lives, which ecosystems to process in which order, and where the offline
// cache and output documents go.
type ProjectRequest struct {
	ProjectDir string
	OutputDir  string
	Ecosystems []EcosystemSelection
}
