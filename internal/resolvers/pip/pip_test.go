package pip

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"packstash/internal/types"
)

// newTestIndex serves the PyPI JSON API for a fixed set of projects.
func newTestIndex(t *testing.T, projects map[string]*indexProject) *Resolver {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/pypi/"), "/json")
		project, ok := projects[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(project))
	}))
	t.Cleanup(server.Close)

	resolver := New(nil)
	resolver.IndexURL = server.URL
	resolver.Client = server.Client()
	return resolver
}

func sdistProject(version string, sha string) *indexProject {
	return &indexProject{Releases: map[string][]indexFile{
		version: {{
			Filename:    "pkg-" + version + ".tar.gz",
			URL:         "https://files.test/pkg-" + version + ".tar.gz",
			Digests:     map[string]string{"sha256": sha},
			PackageType: "sdist",
		}},
	}}
}

const indexSHA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
const lockSHA = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

func TestResolvePinnedRequirement(t *testing.T) {
	dir := t.TempDir()
	writeRequirements(t, dir, "requirements.txt",
		"requests==2.31.0 --hash=sha256:"+lockSHA+"\n")
	resolver := newTestIndex(t, map[string]*indexProject{
		"requests": sdistProject("2.31.0", indexSHA),
	})

	graph, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, graph.Len())

	node := graph.Node("requests@2.31.0")
	require.NotNil(t, node)
	require.Equal(t, "https://files.test/pkg-2.31.0.tar.gz", node.URL)
	require.Equal(t, "pkg-2.31.0.tar.gz", node.Filename)
	require.False(t, node.Binary)
	// The lockfile hash wins over the index digest.
	require.Equal(t, []types.Digest{types.NewDigest("sha256", lockSHA)}, node.Digests)
}

func TestResolveUnhashedUsesIndexDigest(t *testing.T) {
	dir := t.TempDir()
	writeRequirements(t, dir, "requirements.txt", "requests==2.31.0\n")
	resolver := newTestIndex(t, map[string]*indexProject{
		"requests": sdistProject("2.31.0", indexSHA),
	})

	graph, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	require.NoError(t, err)
	node := graph.Node("requests@2.31.0")
	require.NotNil(t, node)
	require.Equal(t, []types.Digest{types.NewDigest("sha256", indexSHA)}, node.Digests)
}

func TestResolveSkipsDevFilesWithoutIncludeDev(t *testing.T) {
	dir := t.TempDir()
	writeRequirements(t, dir, "requirements.txt", "requests==2.31.0\n")
	writeRequirements(t, dir, "requirements-dev.txt", "pytest==8.0.0\n")
	resolver := newTestIndex(t, map[string]*indexProject{
		"requests": sdistProject("2.31.0", indexSHA),
		"pytest":   sdistProject("8.0.0", indexSHA),
	})

	graph, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, graph.Len())

	graph, err = resolver.Resolve(t.Context(), dir, types.EcosystemOptions{IncludeDev: true})
	require.NoError(t, err)
	require.Equal(t, 2, graph.Len())
	dev := graph.Node("pytest@8.0.0")
	require.NotNil(t, dev)
	require.Equal(t, types.DepClassDev, dev.Class)
}

func TestResolveMarkerFiltersRequirement(t *testing.T) {
	dir := t.TempDir()
	writeRequirements(t, dir, "requirements.txt",
		"requests==2.31.0\n"+
			`colorama==0.4.6; sys_platform == "win32"`+"\n")
	resolver := newTestIndex(t, map[string]*indexProject{
		"requests": sdistProject("2.31.0", indexSHA),
	})

	// colorama never hits the index: its marker excludes it first.
	graph, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, graph.Len())
	require.Nil(t, graph.Node("colorama@0.4.6"))
}

func TestResolveVCSRequirement(t *testing.T) {
	dir := t.TempDir()
	ref := "2c0b4b86b2e4a7d6f0b0b9f9e3f1a2b3c4d5e6f7"
	writeRequirements(t, dir, "requirements.txt",
		"git+https://github.com/psf/requests@"+ref+"#egg=requests\n")
	resolver := newTestIndex(t, nil)

	_, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Contains(t, resErr.Reason, "trust-on-first-use")

	graph, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{TrustComputedDigests: true})
	require.NoError(t, err)
	require.Equal(t, 1, graph.Len())

	node := graph.Nodes()[0]
	require.Equal(t, types.OriginVCS, node.Origin.Kind)
	require.Equal(t, ref, node.Origin.Ref)
	require.Equal(t, "https://codeload.github.com/psf/requests/tar.gz/"+ref, node.URL)
}

func TestResolveRefusesSetupPyOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "setup.py"), []byte("from setuptools import setup\n"), 0o644))
	resolver := newTestIndex(t, nil)

	require.True(t, resolver.Applies(dir))
	_, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Contains(t, resErr.Reason, "executing untrusted code")
}

func TestResolveUnknownPackage(t *testing.T) {
	dir := t.TempDir()
	writeRequirements(t, dir, "requirements.txt", "no-such-package==1.0.0\n")
	resolver := newTestIndex(t, nil)

	_, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Contains(t, resErr.Reason, "not found on index")
}
