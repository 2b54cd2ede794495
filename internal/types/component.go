package types

import (
	"fmt"
	"net/url"
	"strings"
)

// Identity is the stable identity of one resolved package within one
// ecosystem: name, version, and ecosystem-specific qualifiers (extras,
// architecture, classifier).
type Identity struct {
	Name       string
	Version    string
	Qualifiers string
}

func (id Identity) String() string {
	if id.Qualifiers == "" {
		return id.Name + "@" + id.Version
	}
	return id.Name + "@" + id.Version + "?" + id.Qualifiers
}

// Origin is where an artifact comes from: a registry URL, a VCS URL plus
// ref, or a path inside the project for local dependencies.
type Origin struct {
	Kind OriginKind `json:"kind"`
	URL  string     `json:"url,omitempty"`
	Ref  string     `json:"ref,omitempty"`
	Path string     `json:"path,omitempty"`
}

// Component is one successfully fetched and verified dependency: the
// flattened, externally visible projection of a dependency node. Immutable
// once emitted.
type Component struct {
	Ecosystem    Ecosystem    `json:"ecosystem"`
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Qualifiers   string       `json:"qualifiers,omitempty"`
	Purl         string       `json:"purl"`
	Digest       Digest       `json:"digest"`
	DigestSource DigestSource `json:"digest_source"`
	Origin       Origin       `json:"origin"`
	Role         Role         `json:"role"`
	Class        DepClass     `json:"class"`
	Binary       bool         `json:"binary,omitempty"`
}

// purlTypes maps ecosystems to package-url type names.
var purlTypes = map[Ecosystem]string{
	EcosystemPip:      "pypi",
	EcosystemNpm:      "npm",
	EcosystemYarn:     "npm",
	EcosystemGomod:    "golang",
	EcosystemRubygems: "gem",
	EcosystemCargo:    "cargo",
	EcosystemRPM:      "rpm",
}

// Purl builds the canonical package-url identity for a component. Name
// segments are percent-encoded per the purl spec; qualifiers are carried
// verbatim (resolvers produce them already in key=value form).
func Purl(ecosystem Ecosystem, name string, version string, qualifiers string) string {
	purlType, ok := purlTypes[ecosystem]
	if !ok {
		purlType = string(ecosystem)
	}
	segments := strings.Split(name, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	purl := fmt.Sprintf("pkg:%s/%s@%s", purlType, strings.Join(segments, "/"), url.PathEscape(version))
	if qualifiers != "" {
		purl += "?" + qualifiers
	}
	return purl
}

// CacheKey addresses one artifact in the content-addressed cache.
type CacheKey struct {
	Ecosystem Ecosystem
	Identity  Identity
	Digest    Digest
	Filename  string
}

// CacheEntry describes one stored artifact.
type CacheEntry struct {
	Key  CacheKey
	Path string
	Size int64
}

// EnvAssignment is one name=value pair of the environment contract handed
// to the downstream hermetic build. Values are safe for shell export.
type EnvAssignment struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FileEdit describes one surgical, idempotent modification to an
// ecosystem config file. Content between the markers is owned by this
// tool; re-application replaces the block instead of appending.
type FileEdit struct {
	Path    string `json:"path"`
	Format  string `json:"format"`
	Content string `json:"content"`
}

// Collision records a package name that appears in more than one
// ecosystem. Such components are semantically distinct artifacts and are
// never merged; the collision is surfaced for the report's reader.
type Collision struct {
	Name       string      `json:"name"`
	Ecosystems []Ecosystem `json:"ecosystems"`
}

// EcosystemReport is one resolver's contribution to the run output:
// components in deterministic traversal order plus any per-dependency
// fetch failures.
type EcosystemReport struct {
	Ecosystem  Ecosystem      `json:"ecosystem"`
	Components []Component    `json:"components"`
	Failures   []FetchFailure `json:"failures,omitempty"`
}

// RequestOutput is the terminal artifact of a run, owned by the
// orchestrator and handed read-only to the emitter and SBOM assembler.
type RequestOutput struct {
	SchemaVersion int               `json:"schema_version"`
	RunID         string            `json:"run_id"`
	Tool          string            `json:"tool"`
	StartedAt     string            `json:"started_at"`
	FinishedAt    string            `json:"finished_at"`
	ProjectDir    string            `json:"project_dir"`
	CacheDir      string            `json:"cache_dir"`
	Reports       []EcosystemReport `json:"reports"`
	Collisions    []Collision       `json:"collisions,omitempty"`
	Environment   []EnvAssignment   `json:"environment"`
	FileEdits     []FileEdit        `json:"file_edits,omitempty"`
}

// Components flattens all per-ecosystem reports preserving the stable
// ecosystem-then-discovery order.
func (o RequestOutput) Components() []Component {
	var out []Component
	for _, report := range o.Reports {
		out = append(out, report.Components...)
	}
	return out
}
