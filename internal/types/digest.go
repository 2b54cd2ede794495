package types

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Digest is a content digest in "algorithm:hex" form, e.g.
// "sha256:9f86d0...". The zero value is invalid.
type Digest string

// Supported digest algorithms, strongest first. Ordering matters: when an
// artifact carries several verified digests the strongest one becomes the
// cache key and the component's reported digest.
var digestAlgorithms = []string{"sha512", "sha256", "sha1"}

// digestHexLengths maps each supported algorithm to the hex length of its
// digest. A truncated or padded hex string is as invalid as a non-hex one.
var digestHexLengths = map[string]int{
	"sha512": 128,
	"sha256": 64,
	"sha1":   40,
}

func NewDigest(algorithm string, hexValue string) Digest {
	return Digest(algorithm + ":" + strings.ToLower(hexValue))
}

func (d Digest) Algorithm() string {
	idx := strings.IndexByte(string(d), ':')
	if idx < 0 {
		return ""
	}
	return string(d)[:idx]
}

func (d Digest) Hex() string {
	idx := strings.IndexByte(string(d), ':')
	if idx < 0 {
		return ""
	}
	return string(d)[idx+1:]
}

func (d Digest) Validate() error {
	algorithm := d.Algorithm()
	supported := false
	for _, known := range digestAlgorithms {
		if algorithm == known {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("unsupported digest algorithm %q", algorithm)
	}
	hexValue := d.Hex()
	if _, err := hex.DecodeString(hexValue); err != nil {
		return fmt.Errorf("digest %q is not hex encoded: %w", d, err)
	}
	if want := digestHexLengths[algorithm]; len(hexValue) != want {
		return fmt.Errorf("digest %q has %d hex characters, %s needs %d",
			d, len(hexValue), algorithm, want)
	}
	return nil
}

// ParseSRI converts a Subresource Integrity string ("sha512-<base64>") as
// found in npm and yarn lockfiles into a Digest. Multiple space-separated
// entries are allowed; all are returned.
func ParseSRI(value string) ([]Digest, error) {
	var out []Digest
	for _, field := range strings.Fields(value) {
		algorithm, encoded, found := strings.Cut(field, "-")
		if !found {
			return nil, fmt.Errorf("malformed integrity value %q", field)
		}
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("integrity value %q is not base64: %w", field, err)
		}
		digest := NewDigest(algorithm, hex.EncodeToString(raw))
		if err := digest.Validate(); err != nil {
			return nil, err
		}
		out = append(out, digest)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty integrity value")
	}
	return out, nil
}

// StrongestDigest picks the preferred digest from a verified set, by
// algorithm strength then lexical order for determinism.
func StrongestDigest(digests []Digest) Digest {
	var best Digest
	bestRank := len(digestAlgorithms)
	for _, d := range digests {
		for rank, algorithm := range digestAlgorithms {
			if d.Algorithm() != algorithm {
				continue
			}
			if rank < bestRank || (rank == bestRank && (best == "" || d < best)) {
				best = d
				bestRank = rank
			}
		}
	}
	return best
}
