package types

// Ecosystem is one package-manager universe with its own manifest and
// lockfile formats and its own resolution semantics.
type Ecosystem string

const (
	EcosystemPip      Ecosystem = "pip"
	EcosystemNpm      Ecosystem = "npm"
	EcosystemYarn     Ecosystem = "yarn"
	EcosystemGomod    Ecosystem = "gomod"
	EcosystemRubygems Ecosystem = "rubygems"
	EcosystemCargo    Ecosystem = "cargo"
	EcosystemRPM      Ecosystem = "rpm"
)

// AllEcosystems is the fixed emission order used whenever output must be
// stable across runs regardless of request order.
var AllEcosystems = []Ecosystem{
	EcosystemPip,
	EcosystemNpm,
	EcosystemYarn,
	EcosystemGomod,
	EcosystemRubygems,
	EcosystemCargo,
	EcosystemRPM,
}

// OriginKind classifies where an artifact was fetched from.
type OriginKind string

const (
	OriginRegistry OriginKind = "registry"
	OriginVCS      OriginKind = "vcs"
	OriginLocal    OriginKind = "local"
)

// Role distinguishes packages the project asks for directly from packages
// pulled in transitively.
type Role string

const (
	RoleDirect     Role = "direct"
	RoleTransitive Role = "transitive"
)

// DepClass is the dev/runtime classification carried by a dependency.
type DepClass string

const (
	DepClassRuntime DepClass = "runtime"
	DepClassDev     DepClass = "dev"
)

// DigestSource records whether a component's digest was declared by the
// lockfile and verified, or computed on first fetch because the ecosystem
// declared none (trust-on-first-use).
type DigestSource string

const (
	DigestSourceDeclared DigestSource = "declared"
	DigestSourceComputed DigestSource = "computed"
)

// TrustPolicy is the explicit decision a resolver makes for artifacts
// without any declared digest. There is no silent default: callers must
// pick one.
type TrustPolicy string

const (
	TrustPolicyReject   TrustPolicy = "reject"
	TrustPolicyFirstUse TrustPolicy = "trust-on-first-use"
)
