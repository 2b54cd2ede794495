package ports

import (
	"io"

	"packstash/internal/types"
)

// CachePort is the content-addressed artifact store shared by all
// resolvers and across runs. Writes are idempotent and atomic; entries are
// only ever added, never overwritten.
type CachePort interface {
	// Has reports whether the keyed artifact is already stored.
	Has(key types.CacheKey) bool

	// Put streams an artifact into the store, verifying it against the
	// key's digest plus every other declared digest before the entry
	// becomes observable. Repeated or concurrent puts of the same key
	// converge to one stored copy. The optional check runs against the
	// staged file before commit (e.g. Go module dirhash over the zip).
	Put(key types.CacheKey, r io.Reader, expected []types.Digest, check func(path string) error) (types.CacheEntry, error)

	// PutComputed stores an artifact whose digest is not declared anywhere,
	// keying it by the sha256 computed while streaming. This is the
	// trust-on-first-use write path; callers must have made that decision
	// explicitly.
	PutComputed(ecosystem types.Ecosystem, id types.Identity, filename string, r io.Reader, check func(path string) error) (types.CacheEntry, error)

	// Get opens a stored artifact. The returned reader recomputes the
	// digest as it is drained and fails with CacheCorruption on
	// disagreement with the key.
	Get(key types.CacheKey) (io.ReadCloser, error)

	// Path returns the on-disk location of a stored artifact.
	Path(key types.CacheKey) (string, error)

	// Root is the cache root directory, used by the emitter to derive
	// environment and config redirections.
	Root() string
}
