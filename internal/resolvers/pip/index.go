package pip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"

	"packstash/internal/types"
)

// indexFile is one downloadable artifact in a PyPI JSON API release.
type indexFile struct {
	Filename    string            `json:"filename"`
	URL         string            `json:"url"`
	Digests     map[string]string `json:"digests"`
	PackageType string            `json:"packagetype"`
	Yanked      bool              `json:"yanked"`
}

type indexProject struct {
	Releases map[string][]indexFile `json:"releases"`
}

// indexClient talks the PyPI JSON API of the resolver's declared index.
// It is metadata-only: artifact bytes always go through the fetch client.
type indexClient struct {
	baseURL string
	client  *http.Client
}

func (c *indexClient) project(ctx context.Context, name string) (*indexProject, error) {
	url := fmt.Sprintf("%s/pypi/%s/json", strings.TrimRight(c.baseURL, "/"), name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &types.FetchError{URL: url, Transient: true, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, &types.ResolutionError{
			Ecosystem: types.EcosystemPip,
			Reason:    "package " + name + " not found on index",
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &types.FetchError{URL: url, Status: resp.StatusCode, Transient: resp.StatusCode >= 500}
	}
	var project indexProject
	if err := json.NewDecoder(resp.Body).Decode(&project); err != nil {
		return nil, &types.ResolutionError{
			Ecosystem: types.EcosystemPip,
			Reason:    "index returned malformed metadata for " + name,
			Err:       err,
		}
	}
	return &project, nil
}

// pickVersion selects the release for a requirement: the exact pin when
// there is one, otherwise the highest non-prerelease version satisfying
// the specifier set. The tie-break is deterministic by construction.
func pickVersion(project *indexProject, req requirement) (string, error) {
	if req.Pinned != "" {
		pinned, err := pep440.Parse(req.Pinned)
		if err != nil {
			return "", fmt.Errorf("invalid pinned version %q: %w", req.Pinned, err)
		}
		for candidate := range project.Releases {
			if version, err := pep440.Parse(candidate); err == nil && version.Equal(pinned) {
				return candidate, nil
			}
		}
		return "", fmt.Errorf("pinned version %s not found on index", req.Pinned)
	}

	var specifiers pep440.Specifiers
	if req.Specifiers != "" {
		parsed, err := pep440.NewSpecifiers(req.Specifiers)
		if err != nil {
			return "", fmt.Errorf("invalid specifiers %q: %w", req.Specifiers, err)
		}
		specifiers = parsed
	}

	type candidate struct {
		raw     string
		version pep440.Version
	}
	var candidates []candidate
	for raw := range project.Releases {
		version, err := pep440.Parse(raw)
		if err != nil || isPreRelease(raw) {
			continue
		}
		if req.Specifiers != "" && !specifiers.Check(version) {
			continue
		}
		candidates = append(candidates, candidate{raw: raw, version: version})
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no release satisfies %q", req.Specifiers)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].version.GreaterThan(candidates[j].version)
	})
	return candidates[0].raw, nil
}

// preReleasePattern matches the PEP 440 pre-release and dev segments
// (1.2.0a1, 1.2rc1, 1.0.dev3). Post-releases are stable and excluded.
var preReleasePattern = regexp.MustCompile(`(?i)[._-]?(a|b|c|rc|alpha|beta|pre|preview|dev)[0-9]*([.+].*)?$`)

func isPreRelease(raw string) bool {
	return preReleasePattern.MatchString(raw)
}

// pickFile selects the artifact for a release: the sdist, or a wheel only
// when binaries are explicitly allowed and no sdist exists.
func pickFile(files []indexFile, allowBinary bool) (indexFile, error) {
	var wheel *indexFile
	for i, file := range files {
		if file.Yanked {
			continue
		}
		switch file.PackageType {
		case "sdist":
			return file, nil
		case "bdist_wheel":
			if wheel == nil {
				wheel = &files[i]
			}
		}
	}
	if wheel != nil {
		if !allowBinary {
			return indexFile{}, fmt.Errorf("only pre-built wheels available; pass allow-binary to permit them")
		}
		return *wheel, nil
	}
	return indexFile{}, fmt.Errorf("release has no downloadable artifacts")
}
