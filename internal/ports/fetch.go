package ports

import (
	"context"

	"packstash/internal/types"
)

// FetchRequest describes one artifact retrieval. The URL is the exact,
// resolver-declared location; the fetch layer never substitutes a mirror.
type FetchRequest struct {
	Ecosystem types.Ecosystem
	Identity  types.Identity
	URL       string
	Filename  string

	// Expected holds every digest the lockfile declares for this artifact.
	// All of them must match the downloaded bytes.
	Expected []types.Digest

	// Trust decides what happens when Expected is empty. Never defaults to
	// trusting: the zero value rejects.
	Trust types.TrustPolicy

	// Check optionally validates the staged download before it is
	// committed to the cache (semantic digests such as Go's dirhash).
	Check func(path string) error
}

// FetchPort retrieves one artifact through integrity verification into the
// cache, retrying only transient failures. A hit for an already-cached
// digest short-circuits without network I/O.
type FetchPort interface {
	Fetch(ctx context.Context, req FetchRequest) (types.CacheEntry, error)
}
