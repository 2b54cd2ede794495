package gomod

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/mod/sumdb/dirhash"

	"packstash/internal/types"
)

func writeProject(t *testing.T, gomod string, gosum string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte(gomod), 0o644))
	if gosum != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "go.sum"), []byte(gosum), 0o644))
	}
	return dir
}

const demoGoMod = `module example.com/demo

go 1.22

require (
	github.com/rs/zerolog v1.33.0
	golang.org/x/sys v0.21.0 // indirect
)
`

const demoGoSum = `github.com/rs/zerolog v1.33.0 h1:1cU2KZkvPxNyfgEmhHAz/1A9Bz+llsdYzklWFzgp0r8=
github.com/rs/zerolog v1.33.0/go.mod h1:SdcqdbiX+eQjzJZQbMcVvlUhaqs0cqgvaAyM8ciNHSA=
golang.org/x/sys v0.21.0 h1:rF+pYz3DAGSQAxAu1CbC7catZg4ebC4UIeIhKxBZvws=
golang.org/x/sys v0.21.0/go.mod h1:/VUhepiaJMQUp4+oa/7Zr1D23ma6VTLIYjOOGWCsivU=
`

func TestResolveModules(t *testing.T) {
	dir := writeProject(t, demoGoMod, demoGoSum)

	resolver := New(nil)
	require.True(t, resolver.Applies(dir))

	graph, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, graph.Len())

	zerolog := graph.Node("github.com/rs/zerolog@v1.33.0")
	require.NotNil(t, zerolog)
	require.Equal(t, types.RoleDirect, zerolog.Role)
	require.Equal(t, "https://proxy.golang.org/github.com/rs/zerolog/@v/v1.33.0.zip", zerolog.URL)
	require.Equal(t, "zerolog@v1.33.0.zip", zerolog.Filename)
	require.NotNil(t, zerolog.Check)
	require.True(t, zerolog.TrustComputed)

	sys := graph.Node("golang.org/x/sys@v0.21.0")
	require.NotNil(t, sys)
	require.Equal(t, types.RoleTransitive, sys.Role)
}

func TestResolveEscapesUppercaseModulePath(t *testing.T) {
	dir := writeProject(t,
		"module example.com/demo\n\ngo 1.22\n\nrequire github.com/BurntSushi/toml v1.4.0\n",
		"github.com/BurntSushi/toml v1.4.0 h1:kuoIxZQy2WRRk1pttg9asf+WVv6tWQuBNVmK8+nqPr0=\n")

	resolver := New(nil)
	graph, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	require.NoError(t, err)

	node := graph.Node("github.com/BurntSushi/toml@v1.4.0")
	require.NotNil(t, node)
	require.Equal(t, "https://proxy.golang.org/github.com/!burnt!sushi/toml/@v/v1.4.0.zip", node.URL)
}

func TestResolveRequiresGoSum(t *testing.T) {
	dir := writeProject(t, demoGoMod, "")

	resolver := New(nil)
	_, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Contains(t, resErr.Reason, "go.sum is required")
}

func TestResolveRejectsModuleMissingFromGoSum(t *testing.T) {
	// Only the /go.mod hash is present; the zip hash is what guards the
	// fetched content, so the module is unverifiable.
	dir := writeProject(t, "module example.com/demo\n\ngo 1.22\n\nrequire github.com/rs/zerolog v1.33.0\n",
		"github.com/rs/zerolog v1.33.0/go.mod h1:SdcqdbiX+eQjzJZQbMcVvlUhaqs0cqgvaAyM8ciNHSA=\n")

	resolver := New(nil)
	_, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Contains(t, resErr.Reason, "refusing to fetch unverifiable module")
}

func TestResolveLocalReplacement(t *testing.T) {
	gomod := demoGoMod + "\nreplace github.com/rs/zerolog => ./fork/zerolog\n"
	dir := writeProject(t, gomod, demoGoSum)

	resolver := New(nil)
	graph, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	require.NoError(t, err)

	node := graph.Node("./fork/zerolog@v1.33.0")
	require.NotNil(t, node)
	require.Equal(t, types.OriginLocal, node.Origin.Kind)
	require.Nil(t, node.Check)
}

func TestResolveModuleReplacement(t *testing.T) {
	gomod := demoGoMod + "\nreplace golang.org/x/sys v0.21.0 => golang.org/x/sys v0.20.0\n"
	gosum := demoGoSum + "golang.org/x/sys v0.20.0 h1:Od9JTbYCk261bKm4M/mw7AklTlFYIa0bIp9BgSm1S8Y=\n"
	dir := writeProject(t, gomod, gosum)

	resolver := New(nil)
	graph, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	require.NoError(t, err)

	require.Nil(t, graph.Node("golang.org/x/sys@v0.21.0"))
	replaced := graph.Node("golang.org/x/sys@v0.20.0")
	require.NotNil(t, replaced)
	require.Equal(t, "https://proxy.golang.org/golang.org/x/sys/@v/v0.20.0.zip", replaced.URL)
}

// moduleZip writes a minimal but well-formed module zip and returns its
// path together with the dirhash a matching go.sum entry would carry.
func moduleZip(t *testing.T) (string, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mod.zip")
	file, err := os.Create(path)
	require.NoError(t, err)

	writer := zip.NewWriter(file)
	entry, err := writer.Create("example.com/mod@v1.0.0/go.mod")
	require.NoError(t, err)
	_, err = entry.Write([]byte("module example.com/mod\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.NoError(t, file.Close())

	sum, err := dirhash.HashZip(path, dirhash.Hash1)
	require.NoError(t, err)
	return path, sum
}

func TestDirhashCheck(t *testing.T) {
	zipPath, sum := moduleZip(t)
	identity := types.Identity{Name: "example.com/mod", Version: "v1.0.0"}

	require.NoError(t, dirhashCheck(identity, sum)(zipPath))

	err := dirhashCheck(identity, "h1:doesnotmatchdoesnotmatchdoesnotmatchdoesnotm=")(zipPath)
	var mismatch *types.IntegrityMismatch
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "example.com/mod@v1.0.0", mismatch.Subject)
	require.Equal(t, types.Digest(sum), mismatch.Computed[0])
}

func TestDirhashCheckUnreadableZip(t *testing.T) {
	identity := types.Identity{Name: "example.com/mod", Version: "v1.0.0"}
	err := dirhashCheck(identity, "h1:ignored=")(filepath.Join(t.TempDir(), "missing.zip"))
	require.Error(t, err)
	var mismatch *types.IntegrityMismatch
	require.False(t, errors.As(err, &mismatch))
}
