package adapters

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"packstash/internal/ports"
	"packstash/internal/types"
)

func newTestFetcher(t *testing.T) (*HTTPFetchAdapter, *FSCacheAdapter) {
	t.Helper()
	cache, err := NewFSCacheAdapter(t.TempDir())
	require.NoError(t, err)
	fetcher, err := NewHTTPFetchAdapter(cache, TLSOptions{}, 0, 2)
	require.NoError(t, err)
	return fetcher, cache
}

func fetchRequest(url string, content []byte) ports.FetchRequest {
	sum := sha256.Sum256(content)
	return ports.FetchRequest{
		Ecosystem: types.EcosystemNpm,
		Identity:  types.Identity{Name: "left-pad", Version: "1.3.0"},
		URL:       url,
		Filename:  "left-pad-1.3.0.tgz",
		Expected:  []types.Digest{types.NewDigest("sha256", hex.EncodeToString(sum[:]))},
	}
}

func TestFetchStoresVerifiedArtifact(t *testing.T) {
	content := []byte("tarball bytes")
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write(content)
	}))
	defer server.Close()

	fetcher, cache := newTestFetcher(t)
	req := fetchRequest(server.URL, content)

	entry, err := fetcher.Fetch(t.Context(), req)
	require.NoError(t, err)
	require.True(t, cache.Has(entry.Key))
	require.Equal(t, int32(1), hits.Load())

	// Second fetch is served from the cache without a round trip.
	_, err = fetcher.Fetch(t.Context(), req)
	require.NoError(t, err)
	require.Equal(t, int32(1), hits.Load())
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	content := []byte("flaky artifact")
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(content)
	}))
	defer server.Close()

	fetcher, _ := newTestFetcher(t)
	_, err := fetcher.Fetch(t.Context(), fetchRequest(server.URL, content))
	require.NoError(t, err)
	require.Equal(t, int32(3), hits.Load())
}

func TestFetchDoesNotRetryPermanentFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher, _ := newTestFetcher(t)
	_, err := fetcher.Fetch(t.Context(), fetchRequest(server.URL, []byte("missing")))

	var fetchErr *types.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, http.StatusNotFound, fetchErr.Status)
	require.False(t, fetchErr.Transient)
	require.Equal(t, int32(1), hits.Load())
}

func TestFetchNeverCachesMismatchedContent(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte("tampered bytes"))
	}))
	defer server.Close()

	fetcher, cache := newTestFetcher(t)
	req := fetchRequest(server.URL, []byte("declared bytes"))
	_, err := fetcher.Fetch(t.Context(), req)

	var mismatch *types.IntegrityMismatch
	require.ErrorAs(t, err, &mismatch)
	// Mismatches are permanent: same source, same bytes, no retry.
	require.Equal(t, int32(1), hits.Load())
	require.False(t, cache.Has(fetcher.cacheKey(req)))
}

func TestFetchWithoutDeclaredDigestNeedsTrust(t *testing.T) {
	content := []byte("undeclared artifact")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(content)
	}))
	defer server.Close()

	fetcher, cache := newTestFetcher(t)
	req := ports.FetchRequest{
		Ecosystem: types.EcosystemRubygems,
		Identity:  types.Identity{Name: "rake", Version: "13.0.6"},
		URL:       server.URL,
		Filename:  "rake-13.0.6.gem",
	}

	_, err := fetcher.Fetch(t.Context(), req)
	require.Error(t, err)

	req.Trust = types.TrustPolicyFirstUse
	entry, err := fetcher.Fetch(t.Context(), req)
	require.NoError(t, err)
	sum := sha256.Sum256(content)
	require.Equal(t, types.NewDigest("sha256", hex.EncodeToString(sum[:])), entry.Key.Digest)

	reader, err := cache.Get(entry.Key)
	require.NoError(t, err)
	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	require.Equal(t, content, got)
}

func TestFetchRunsCheckHook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("zip bytes"))
	}))
	defer server.Close()

	fetcher, cache := newTestFetcher(t)
	checkErr := &types.IntegrityMismatch{Subject: "golang.org/x/mod@v0.18.0"}
	req := ports.FetchRequest{
		Ecosystem: types.EcosystemGomod,
		Identity:  types.Identity{Name: "golang.org/x/mod", Version: "v0.18.0"},
		URL:       server.URL,
		Filename:  "v0.18.0.zip",
		Trust:     types.TrustPolicyFirstUse,
		Check:     func(string) error { return checkErr },
	}
	_, err := fetcher.Fetch(t.Context(), req)
	require.ErrorIs(t, err, checkErr)
	require.False(t, cache.Has(fetcher.cacheKey(req)))
}

func TestFetchRejectsEmptyURL(t *testing.T) {
	fetcher, _ := newTestFetcher(t)
	_, err := fetcher.Fetch(t.Context(), ports.FetchRequest{})
	require.Error(t, err)
}
