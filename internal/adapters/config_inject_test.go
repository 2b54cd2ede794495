package adapters

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/ini.v1"

	"packstash/internal/types"
)

func TestApplyINIEditMergesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pip.conf")
	require.NoError(t, os.WriteFile(path, []byte("[global]\ntimeout = 60\n"), 0644))

	injector := NewConfigInjectorAdapter()
	err := injector.Apply([]types.FileEdit{{
		Path:    path,
		Format:  "ini",
		Content: "[global]\nno-index = true\nfind-links = /cache/pip\n",
	}})
	require.NoError(t, err)

	merged, err := ini.Load(path)
	require.NoError(t, err)
	section := merged.Section("global")
	require.Equal(t, "60", section.Key("timeout").String())
	require.Equal(t, "true", section.Key("no-index").String())
	require.Equal(t, "/cache/pip", section.Key("find-links").String())
}

func TestApplyINIEditIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".npmrc")
	edit := types.FileEdit{
		Path:    path,
		Format:  "ini",
		Content: "cache=/cache/npm-cache\noffline=true\n",
	}

	injector := NewConfigInjectorAdapter()
	require.NoError(t, injector.Apply([]types.FileEdit{edit}))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, injector.Apply([]types.FileEdit{edit}))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
}

func TestApplyBlockEditReplacesManagedBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".cargo", "config.toml")
	edit := types.FileEdit{
		Path:    path,
		Format:  "toml",
		Content: "[source.crates-io]\nreplace-with = \"offline\"\n",
	}

	injector := NewConfigInjectorAdapter()
	require.NoError(t, injector.Apply([]types.FileEdit{edit}))

	// Re-application with different content replaces the block instead of
	// appending a second one.
	edit.Content = "[source.crates-io]\nreplace-with = \"other\"\n"
	require.NoError(t, injector.Apply([]types.FileEdit{edit}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(data), managedBlockBegin))
	require.Contains(t, string(data), "replace-with = \"other\"")
	require.NotContains(t, string(data), "replace-with = \"offline\"")
}

func TestApplyBlockEditPreservesUserContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[build]\njobs = 4\n"), 0644))

	injector := NewConfigInjectorAdapter()
	require.NoError(t, injector.Apply([]types.FileEdit{{
		Path:    path,
		Format:  "toml",
		Content: "[source.crates-io]\nreplace-with = \"offline\"\n",
	}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "[build]\njobs = 4\n"))
	require.Contains(t, string(data), managedBlockBegin)
	require.Contains(t, string(data), managedBlockEnd)
}
