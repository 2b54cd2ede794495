package rubygems

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"packstash/internal/types"
)

func writeLock(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Gemfile.lock"), []byte(content), 0o644))
	return dir
}

const gemSHA = "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"

const basicLock = `GEM
  remote: https://rubygems.org/
  specs:
    concurrent-ruby (1.2.3)
    rack (3.0.10)
      concurrent-ruby (~> 1.0)

PLATFORMS
  ruby

DEPENDENCIES
  rack (~> 3.0)

CHECKSUMS
  concurrent-ruby (1.2.3) sha256=` + gemSHA + `
  rack (3.0.10) sha256=` + gemSHA + `

BUNDLED WITH
   2.5.6
`

func TestResolveRegistryGems(t *testing.T) {
	dir := writeLock(t, basicLock)

	resolver := New(nil)
	require.True(t, resolver.Applies(dir))

	graph, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, graph.Len())

	rack := graph.Node("rack@3.0.10")
	require.NotNil(t, rack)
	require.Equal(t, types.RoleDirect, rack.Role)
	require.Equal(t, "https://rubygems.org/gems/rack-3.0.10.gem", rack.URL)
	require.Equal(t, "rack-3.0.10.gem", rack.Filename)
	require.Equal(t, []types.Digest{types.NewDigest("sha256", gemSHA)}, rack.Digests)
	require.Equal(t, []string{"concurrent-ruby@1.2.3"}, rack.Requires)

	transitive := graph.Node("concurrent-ruby@1.2.3")
	require.NotNil(t, transitive)
	require.Equal(t, types.RoleTransitive, transitive.Role)
	require.False(t, transitive.Binary)
}

func TestResolvePlatformGemNeedsAllowBinary(t *testing.T) {
	lock := `GEM
  remote: https://rubygems.org/
  specs:
    nokogiri (1.16.4-x86_64-linux)

DEPENDENCIES
  nokogiri

CHECKSUMS
  nokogiri (1.16.4-x86_64-linux) sha256=` + gemSHA + `
`
	dir := writeLock(t, lock)
	resolver := New(nil)

	_, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Contains(t, resErr.Reason, "binaries are not allowed")

	graph, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{AllowBinary: true})
	require.NoError(t, err)

	node := graph.Node("nokogiri@1.16.4?platform=x86_64-linux")
	require.NotNil(t, node)
	require.True(t, node.Binary)
	require.Equal(t, "nokogiri-1.16.4-x86_64-linux.gem", node.Filename)
	// The checksum is keyed by the platform-qualified version.
	require.Equal(t, []types.Digest{types.NewDigest("sha256", gemSHA)}, node.Digests)
}

func TestResolveGitGem(t *testing.T) {
	revision := "badc0ffeebadc0ffeebadc0ffeebadc0ffeebadc"
	lock := `GIT
  remote: https://github.com/org/mygem.git
  revision: ` + revision + `
  specs:
    mygem (0.5.0)

DEPENDENCIES
  mygem!
`
	dir := writeLock(t, lock)
	resolver := New(nil)

	graph, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	require.NoError(t, err)

	node := graph.Node("mygem@0.5.0?ref=" + revision)
	require.NotNil(t, node)
	require.Equal(t, types.RoleDirect, node.Role)
	require.Equal(t, types.OriginVCS, node.Origin.Kind)
	require.Equal(t, "https://codeload.github.com/org/mygem/tar.gz/"+revision, node.URL)
	require.True(t, node.TrustComputed)
}

func TestResolveGitGemShortRevision(t *testing.T) {
	lock := `GIT
  remote: https://github.com/org/mygem.git
  revision: abc123
  specs:
    mygem (0.5.0)

DEPENDENCIES
  mygem!
`
	dir := writeLock(t, lock)
	resolver := New(nil)

	_, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Contains(t, resErr.Reason, "pins no full revision")
}

func TestResolvePathGem(t *testing.T) {
	lock := `PATH
  remote: vendor/local_gem
  specs:
    local_gem (0.1.0)

` + basicLock
	dir := writeLock(t, lock)
	resolver := New(nil)

	graph, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, graph.Len())

	node := graph.Node("local_gem@0.1.0")
	require.NotNil(t, node)
	require.Equal(t, types.OriginLocal, node.Origin.Kind)
	require.Equal(t, "vendor/local_gem", node.Origin.Path)
	require.Empty(t, node.URL)
}

func TestResolveRejectsUnpinnedSpec(t *testing.T) {
	dir := writeLock(t, strings.Replace(basicLock, "rack (3.0.10)", "rack", 1))
	resolver := New(nil)

	_, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Contains(t, resErr.Reason, "unpinned spec line")
}

func TestResolveRejectsEmptyChecksumHex(t *testing.T) {
	lock := strings.Replace(basicLock,
		"rack (3.0.10) sha256="+gemSHA,
		"rack (3.0.10) sha256=", 1)
	dir := writeLock(t, lock)

	resolver := New(nil)
	_, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Contains(t, resErr.Reason, "malformed checksum")
}

func TestResolveRejectsEmptyLockfile(t *testing.T) {
	dir := writeLock(t, "PLATFORMS\n  ruby\n")
	resolver := New(nil)

	_, err := resolver.Resolve(t.Context(), dir, types.EcosystemOptions{})
	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Contains(t, resErr.Reason, "declares no gems")
}
