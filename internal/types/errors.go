package types

import (
	"fmt"
	"strings"
)

// ResolutionError means an ecosystem's manifests or lockfiles cannot be
// turned into a dependency graph without guessing or without executing
// untrusted code. Fatal for that ecosystem only.
type ResolutionError struct {
	Ecosystem Ecosystem
	Path      string
	Reason    string
	Err       error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("%s: resolution failed: %s", e.Ecosystem, e.Reason)
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// FetchError is a network-level failure for one artifact. Transient
// failures (connection errors, 5xx, timeouts) are retried with backoff up
// to a bounded count; permanent failures (4xx, TLS/auth) surface
// immediately.
type FetchError struct {
	URL       string
	Status    int
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	msg := fmt.Sprintf("%s fetch failure for %s", kind, e.URL)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// IntegrityMismatch means downloaded content does not match its declared
// digest. Never retried against the same source: a different digest means
// different content, not a transient condition. Possible tampering.
type IntegrityMismatch struct {
	Subject  string
	Expected []Digest
	Computed []Digest
}

func (e *IntegrityMismatch) Error() string {
	return fmt.Sprintf("integrity mismatch for %s: expected %s, computed %s",
		e.Subject, joinDigests(e.Expected), joinDigests(e.Computed))
}

// CacheCorruption means a stored artifact no longer matches its
// content-addressed key. This never happens under correct operation and
// indicates filesystem corruption, not a network-time integrity failure.
type CacheCorruption struct {
	Key      CacheKey
	Computed Digest
}

func (e *CacheCorruption) Error() string {
	return fmt.Sprintf("cache corruption: entry %s/%s keyed %s recomputed as %s",
		e.Key.Ecosystem, e.Key.Identity, e.Key.Digest, e.Computed)
}

// FetchFailure is the reportable record of one dependency that could not
// be fetched or verified. Integrity marks failures caused by digest
// disagreement (tampering or corruption) so they survive the flattening
// into a report and keep their exit-code severity.
type FetchFailure struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	URL       string `json:"url,omitempty"`
	Reason    string `json:"reason"`
	Integrity bool   `json:"integrity,omitempty"`
}

// PartialFetchError carries the full success/failure split of one
// resolver's fetch phase. Artifacts already cached remain valid for reuse;
// the caller decides whether partial output is acceptable.
type PartialFetchError struct {
	Ecosystem Ecosystem
	Fetched   []Component
	Failures  []FetchFailure
}

func (e *PartialFetchError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		names = append(names, failure.Name+"@"+failure.Version)
	}
	return fmt.Sprintf("%s: fetched %d of %d dependencies, failed: %s",
		e.Ecosystem, len(e.Fetched), len(e.Fetched)+len(e.Failures), strings.Join(names, ", "))
}

// EcosystemFailure pairs a failed ecosystem with its error for aggregation.
type EcosystemFailure struct {
	Ecosystem Ecosystem
	Err       error
}

// OrchestratorError aggregates per-ecosystem failures. It is produced only
// after every scheduled resolver has finished, so one run surfaces every
// problem at once.
type OrchestratorError struct {
	Failures []EcosystemFailure
}

func (e *OrchestratorError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", failure.Ecosystem, failure.Err))
	}
	return fmt.Sprintf("%d ecosystem(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

func joinDigests(digests []Digest) string {
	if len(digests) == 0 {
		return "<none>"
	}
	parts := make([]string, len(digests))
	for i, d := range digests {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}
