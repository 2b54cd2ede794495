// Package pip resolves Python dependencies from pip requirements files.
//
// Resolution is purely declarative: requirements are parsed, never
// executed. Projects whose dependency set is only discoverable by running
// setup.py get a ResolutionError instead of code execution.
package pip

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"packstash/internal/ports"
	"packstash/internal/resolvers"
	"packstash/internal/types"
)

const DefaultIndexURL = "https://pypi.org"
const defaultPythonVersion = "3.11"

// requirementsFiles maps source files to the dev/runtime class of their
// dependencies. requirements.txt is expected to be the fully pinned
// lockfile (pip-compile style), so its entries cover transitives too.
var requirementsFiles = []struct {
	name  string
	class types.DepClass
}{
	{"requirements.txt", types.DepClassRuntime},
	{"requirements-build.txt", types.DepClassRuntime},
	{"requirements-dev.txt", types.DepClassDev},
	{"requirements-test.txt", types.DepClassDev},
}

type Resolver struct {
	Fetcher       ports.FetchPort
	IndexURL      string
	PythonVersion string
	Client        *http.Client
}

func New(fetcher ports.FetchPort) *Resolver {
	return &Resolver{
		Fetcher:       fetcher,
		IndexURL:      DefaultIndexURL,
		PythonVersion: defaultPythonVersion,
		Client:        &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *Resolver) Name() types.Ecosystem { return types.EcosystemPip }

func (r *Resolver) Applies(projectDir string) bool {
	for _, file := range requirementsFiles {
		if _, err := os.Stat(filepath.Join(projectDir, file.name)); err == nil {
			return true
		}
	}
	if _, err := os.Stat(filepath.Join(projectDir, "setup.py")); err == nil {
		// Applies so Resolve can fail loudly instead of silently skipping
		// a Python project we refuse to execute.
		return true
	}
	return false
}

func (r *Resolver) Resolve(ctx context.Context, projectDir string, opts types.EcosystemOptions) (*types.DependencyGraph, error) {
	graph := types.NewDependencyGraph(types.EcosystemPip)
	env := defaultMarkerEnv(r.PythonVersion)
	index := &indexClient{baseURL: r.IndexURL, client: r.Client}

	parsedAny := false
	for _, file := range requirementsFiles {
		if file.class == types.DepClassDev && !opts.IncludeDev {
			continue
		}
		path := filepath.Join(projectDir, file.name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		parsedAny = true
		requirements, err := parseRequirementsFile(path)
		if err != nil {
			return nil, err
		}
		for _, req := range requirements {
			if err := r.addRequirement(ctx, graph, index, req, file.class, env, opts); err != nil {
				return nil, err
			}
		}
	}
	if !parsedAny {
		return nil, &types.ResolutionError{
			Ecosystem: types.EcosystemPip,
			Path:      projectDir,
			Reason:    "no requirements files found; resolving setup.py would require executing untrusted code",
		}
	}
	log.Ctx(ctx).Debug().Int("nodes", graph.Len()).Msg("pip graph resolved")
	return graph, nil
}

func (r *Resolver) addRequirement(ctx context.Context, graph *types.DependencyGraph, index *indexClient, req requirement, class types.DepClass, env markerEnv, opts types.EcosystemOptions) error {
	if req.Marker != "" {
		applies, err := evalMarker(req.Marker, env)
		if err != nil {
			return &types.ResolutionError{
				Ecosystem: types.EcosystemPip,
				Path:      req.SourceFile,
				Reason:    "cannot evaluate environment marker for " + req.Name,
				Err:       err,
			}
		}
		if !applies {
			return nil
		}
	}

	switch {
	case req.isLocal():
		graph.Add(&types.DependencyNode{
			Identity: types.Identity{Name: req.Name, Version: "0.0.0"},
			Origin:   types.Origin{Kind: types.OriginLocal, Path: req.LocalPath},
			Class:    class,
			Role:     types.RoleDirect,
		})
		return nil

	case req.isVCS():
		archiveURL, err := vcsArchiveURL(req.VCSURL, req.VCSRef)
		if err != nil {
			return err
		}
		if !opts.TrustComputedDigests && len(req.Hashes) == 0 {
			return &types.ResolutionError{
				Ecosystem: types.EcosystemPip,
				Path:      req.SourceFile,
				Reason:    "VCS requirement " + req.Name + " has no --hash and trust-on-first-use not enabled",
			}
		}
		graph.Add(&types.DependencyNode{
			Identity: types.Identity{Name: req.Name, Version: "0.0.0+" + req.VCSRef[:12]},
			Origin:   types.Origin{Kind: types.OriginVCS, URL: req.VCSURL, Ref: req.VCSRef},
			Digests:  req.Hashes,
			Class:    class,
			Role:     types.RoleDirect,
			URL:      archiveURL,
			Filename: req.Name + "-" + req.VCSRef[:12] + ".tar.gz",
		})
		return nil
	}

	project, err := index.project(ctx, req.Name)
	if err != nil {
		return err
	}
	version, err := pickVersion(project, req)
	if err != nil {
		return &types.ResolutionError{
			Ecosystem: types.EcosystemPip,
			Path:      req.SourceFile,
			Reason:    "cannot resolve " + req.Name + ": " + err.Error(),
		}
	}
	file, err := pickFile(project.Releases[version], opts.AllowBinary)
	if err != nil {
		return &types.ResolutionError{
			Ecosystem: types.EcosystemPip,
			Path:      req.SourceFile,
			Reason:    req.Name + "==" + version + ": " + err.Error(),
		}
	}

	// Lockfile --hash values are the source of truth when present; the
	// index digest only backs artifacts the lockfile left unhashed.
	expected := req.Hashes
	if len(expected) == 0 {
		if sha, ok := file.Digests["sha256"]; ok {
			expected = []types.Digest{types.NewDigest("sha256", sha)}
		}
	}

	qualifiers := ""
	if req.Extras != "" {
		qualifiers = "extras=" + req.Extras
	}
	graph.Add(&types.DependencyNode{
		Identity: types.Identity{Name: req.Name, Version: version, Qualifiers: qualifiers},
		Origin:   types.Origin{Kind: types.OriginRegistry, URL: file.URL},
		Digests:  expected,
		Class:    class,
		Role:     types.RoleDirect,
		URL:      file.URL,
		Filename: file.Filename,
		Binary:   file.PackageType == "bdist_wheel",
	})
	return nil
}

func (r *Resolver) FetchAll(ctx context.Context, graph *types.DependencyGraph, opts types.EcosystemOptions) (types.EcosystemReport, error) {
	return resolvers.FetchGraph(ctx, r.Fetcher, graph, opts)
}

// vcsArchiveURL maps a pinned git requirement onto the forge's archive
// endpoint. Only forges with a stable archive URL scheme are supported:
// anything else would need a git client executing against the repository.
func vcsArchiveURL(repoURL string, ref string) (string, error) {
	parsed, err := url.Parse(repoURL)
	if err != nil {
		return "", &types.ResolutionError{
			Ecosystem: types.EcosystemPip,
			Reason:    "malformed VCS URL " + repoURL,
			Err:       err,
		}
	}
	repoPath := strings.TrimSuffix(strings.Trim(parsed.Path, "/"), ".git")
	switch parsed.Host {
	case "github.com":
		return "https://codeload.github.com/" + repoPath + "/tar.gz/" + ref, nil
	case "gitlab.com":
		base := filepath.Base(repoPath)
		return "https://gitlab.com/" + repoPath + "/-/archive/" + ref + "/" + base + "-" + ref + ".tar.gz", nil
	default:
		return "", &types.ResolutionError{
			Ecosystem: types.EcosystemPip,
			Reason:    "no archive scheme known for VCS host " + parsed.Host,
		}
	}
}
