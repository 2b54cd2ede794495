package core

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"sort"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"packstash/internal/types"
)

// Verifier computes content digests incrementally while a stream is
// consumed and checks them against the declared set. It never buffers the
// stream: callers tee bytes through it on their way to disk.
//
// Verification fails closed. Every declared digest must match the computed
// value for its algorithm; when nothing is declared, Finish refuses unless
// the caller passed an explicit trust-on-first-use policy.
type Verifier struct {
	subject  string
	expected []types.Digest
	trust    types.TrustPolicy
	hashers  map[string]hash.Hash
}

func NewVerifier(subject string, expected []types.Digest, trust types.TrustPolicy) (*Verifier, error) {
	v := &Verifier{
		subject:  subject,
		expected: expected,
		trust:    trust,
		hashers:  map[string]hash.Hash{},
	}
	for _, digest := range expected {
		if err := digest.Validate(); err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("invalid expected digest").
				WithCause(err)
		}
		if _, ok := v.hashers[digest.Algorithm()]; !ok {
			v.hashers[digest.Algorithm()] = newHasher(digest.Algorithm())
		}
	}
	if len(expected) == 0 {
		// Nothing declared: compute sha256 so a trust-on-first-use caller
		// can record it as the new source of truth.
		v.hashers["sha256"] = sha256.New()
	}
	return v, nil
}

// Write feeds stream bytes to every active hasher.
func (v *Verifier) Write(p []byte) (int, error) {
	for _, hasher := range v.hashers {
		hasher.Write(p)
	}
	return len(p), nil
}

// Finish checks the computed digests against the declared set and returns
// the verified digests, strongest first. With no declared digests it
// returns the computed sha256 only under an explicit trust-on-first-use
// policy and rejects otherwise.
func (v *Verifier) Finish() ([]types.Digest, error) {
	computed := v.Computed()
	if len(v.expected) == 0 {
		if v.trust != types.TrustPolicyFirstUse {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg("no declared digest for " + v.subject + " and trust-on-first-use not enabled")
		}
		return computed, nil
	}
	computedSet := make(map[types.Digest]struct{}, len(computed))
	for _, digest := range computed {
		computedSet[digest] = struct{}{}
	}
	for _, digest := range v.expected {
		if _, ok := computedSet[digest]; !ok {
			return nil, &types.IntegrityMismatch{
				Subject:  v.subject,
				Expected: v.expected,
				Computed: computed,
			}
		}
	}
	return computed, nil
}

// Computed returns the digests of everything written so far, in a stable
// order.
func (v *Verifier) Computed() []types.Digest {
	out := make([]types.Digest, 0, len(v.hashers))
	for algorithm, hasher := range v.hashers {
		out = append(out, types.NewDigest(algorithm, hex.EncodeToString(hasher.Sum(nil))))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// VerifyStream drains r through a Verifier and returns the verified
// digests. Used on read paths where the bytes are not needed.
func VerifyStream(subject string, r io.Reader, expected []types.Digest) ([]types.Digest, error) {
	verifier, err := NewVerifier(subject, expected, types.TrustPolicyFirstUse)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(verifier, r); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read stream for verification").
			WithCause(err)
	}
	return verifier.Finish()
}

func newHasher(algorithm string) hash.Hash {
	switch algorithm {
	case "sha512":
		return sha512.New()
	case "sha1":
		return sha1.New()
	default:
		return sha256.New()
	}
}
