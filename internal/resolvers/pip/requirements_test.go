package pip

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"packstash/internal/types"
)

func writeRequirements(t *testing.T, dir string, name string, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseRequirementsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeRequirements(t, dir, "requirements.txt", `
# pinned by pip-compile
requests==2.31.0 \
    --hash=sha256:942c5a758f98d790eaed1a29cb6eefc7ffb0d1cf7af05c3d2791656dbd6ad1e1
Flask[async]==3.0.2  # web framework
charset-normalizer>=3.0,<4
`)

	reqs, err := parseRequirementsFile(path)
	require.NoError(t, err)

	want := []requirement{
		{
			Name:       "requests",
			Specifiers: "==2.31.0",
			Pinned:     "2.31.0",
			Hashes:     []types.Digest{"sha256:942c5a758f98d790eaed1a29cb6eefc7ffb0d1cf7af05c3d2791656dbd6ad1e1"},
			SourceFile: path,
		},
		{
			Name:       "flask",
			Extras:     "async",
			Specifiers: "==3.0.2",
			Pinned:     "3.0.2",
			SourceFile: path,
		},
		{
			Name:       "charset-normalizer",
			Specifiers: ">=3.0,<4",
			SourceFile: path,
		},
	}
	if diff := cmp.Diff(want, reqs); diff != "" {
		t.Fatalf("requirements mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRequirementsNestedInclude(t *testing.T) {
	dir := t.TempDir()
	writeRequirements(t, dir, "base.txt", "six==1.16.0\n")
	path := writeRequirements(t, dir, "requirements.txt", "-r base.txt\nattrs==23.2.0\n")

	reqs, err := parseRequirementsFile(path)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	require.Equal(t, "six", reqs[0].Name)
	require.Equal(t, filepath.Join(dir, "base.txt"), reqs[0].SourceFile)
	require.Equal(t, "attrs", reqs[1].Name)
}

func TestParseRequirementsRejectsIndexRedirection(t *testing.T) {
	dir := t.TempDir()
	for _, line := range []string{
		"--index-url https://evil.example/simple",
		"--extra-index-url https://evil.example/simple",
		"-f ./wheels",
	} {
		path := writeRequirements(t, dir, "requirements.txt", line+"\n")
		_, err := parseRequirementsFile(path)

		var resErr *types.ResolutionError
		require.ErrorAs(t, err, &resErr, "line %q", line)
		require.Contains(t, resErr.Reason, "index redirection")
	}
}

func TestParseRequirementsVCSPin(t *testing.T) {
	dir := t.TempDir()
	ref := "2c0b4b86b2e4a7d6f0b0b9f9e3f1a2b3c4d5e6f7"
	path := writeRequirements(t, dir, "requirements.txt",
		"git+https://github.com/psf/requests@"+ref+"#egg=requests\n")

	reqs, err := parseRequirementsFile(path)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, "requests", reqs[0].Name)
	require.Equal(t, "https://github.com/psf/requests", reqs[0].VCSURL)
	require.Equal(t, ref, reqs[0].VCSRef)
	require.True(t, reqs[0].isVCS())
}

func TestParseRequirementsVCSNeedsFullCommit(t *testing.T) {
	dir := t.TempDir()
	path := writeRequirements(t, dir, "requirements.txt",
		"git+https://github.com/psf/requests@v2.31.0#egg=requests\n")

	_, err := parseRequirementsFile(path)
	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Contains(t, resErr.Reason, "full commit hash")
}

func TestParseRequirementsLocalPath(t *testing.T) {
	dir := t.TempDir()
	path := writeRequirements(t, dir, "requirements.txt", "./vendored/mylib\n")

	reqs, err := parseRequirementsFile(path)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.True(t, reqs[0].isLocal())
	require.Equal(t, "./vendored/mylib", reqs[0].LocalPath)
	require.Equal(t, "mylib", reqs[0].Name)
}

func TestParseRequirementsMarkerSplit(t *testing.T) {
	dir := t.TempDir()
	path := writeRequirements(t, dir, "requirements.txt",
		`colorama==0.4.6; sys_platform == "win32"`+"\n")

	reqs, err := parseRequirementsFile(path)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, "colorama", reqs[0].Name)
	require.Equal(t, `sys_platform == "win32"`, reqs[0].Marker)
	require.Equal(t, "0.4.6", reqs[0].Pinned)
}

func TestParseRequirementsInvalidHash(t *testing.T) {
	dir := t.TempDir()
	path := writeRequirements(t, dir, "requirements.txt",
		"requests==2.31.0 --hash=md5:d41d8cd98f00b204e9800998ecf8427e\n")

	_, err := parseRequirementsFile(path)
	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Contains(t, resErr.Reason, "invalid --hash")
}

func TestParseRequirementsTruncatedHash(t *testing.T) {
	dir := t.TempDir()
	path := writeRequirements(t, dir, "requirements.txt",
		"requests==2.31.0 --hash=sha256:\n")

	_, err := parseRequirementsFile(path)
	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Contains(t, resErr.Reason, "invalid --hash")
}

func TestExactPin(t *testing.T) {
	cases := []struct {
		specifiers string
		version    string
		exact      bool
	}{
		{"==2.31.0", "2.31.0", true},
		{"==2.31.*", "", false},
		{">=2.0", "", false},
		{"==2.31.0,!=2.30.0", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		version, ok := exactPin(tc.specifiers)
		require.Equal(t, tc.exact, ok, "specifiers %q", tc.specifiers)
		require.Equal(t, tc.version, version, "specifiers %q", tc.specifiers)
	}
}
