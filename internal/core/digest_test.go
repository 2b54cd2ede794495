package core

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"packstash/internal/types"
)

func TestVerifierAllDeclaredDigestsMustMatch(t *testing.T) {
	content := []byte("artifact bytes")
	sum256 := sha256.Sum256(content)
	sum512 := sha512.Sum512(content)
	expected := []types.Digest{
		types.NewDigest("sha256", hex.EncodeToString(sum256[:])),
		types.NewDigest("sha512", hex.EncodeToString(sum512[:])),
	}

	verifier, err := NewVerifier("artifact", expected, types.TrustPolicyReject)
	require.NoError(t, err)
	_, err = io.Copy(verifier, bytes.NewReader(content))
	require.NoError(t, err)

	digests, err := verifier.Finish()
	require.NoError(t, err)
	require.Len(t, digests, 2)
	require.Equal(t, expected[1], types.StrongestDigest(digests))
}

func TestVerifierRejectsOnAnyMismatch(t *testing.T) {
	content := []byte("artifact bytes")
	sum256 := sha256.Sum256(content)
	wrong512 := sha512.Sum512([]byte("different bytes"))
	expected := []types.Digest{
		types.NewDigest("sha256", hex.EncodeToString(sum256[:])),
		types.NewDigest("sha512", hex.EncodeToString(wrong512[:])),
	}

	verifier, err := NewVerifier("artifact", expected, types.TrustPolicyReject)
	require.NoError(t, err)
	_, err = io.Copy(verifier, bytes.NewReader(content))
	require.NoError(t, err)

	_, err = verifier.Finish()
	var mismatch *types.IntegrityMismatch
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "artifact", mismatch.Subject)
}

func TestVerifierNoDeclaredDigestNeedsExplicitTrust(t *testing.T) {
	verifier, err := NewVerifier("artifact", nil, types.TrustPolicyReject)
	require.NoError(t, err)
	verifier.Write([]byte("bytes"))
	_, err = verifier.Finish()
	require.Error(t, err)

	verifier, err = NewVerifier("artifact", nil, types.TrustPolicyFirstUse)
	require.NoError(t, err)
	verifier.Write([]byte("bytes"))
	digests, err := verifier.Finish()
	require.NoError(t, err)
	require.Len(t, digests, 1)
	require.Equal(t, "sha256", digests[0].Algorithm())
}

func TestVerifierRejectsInvalidExpectedDigest(t *testing.T) {
	_, err := NewVerifier("artifact", []types.Digest{"md5:abcd"}, types.TrustPolicyReject)
	require.Error(t, err)
}

func TestVerifyStream(t *testing.T) {
	content := []byte("streamed")
	sum := sha256.Sum256(content)
	expected := []types.Digest{types.NewDigest("sha256", hex.EncodeToString(sum[:]))}

	digests, err := VerifyStream("stream", bytes.NewReader(content), expected)
	require.NoError(t, err)
	require.Equal(t, expected, digests)

	_, err = VerifyStream("stream", bytes.NewReader([]byte("tampered")), expected)
	var mismatch *types.IntegrityMismatch
	require.True(t, errors.As(err, &mismatch))
}
