// Package npm resolves Node dependencies from package-lock.json (lockfile
// versions 2 and 3). Install scripts are never run: the lockfile already
// pins every transitive dependency with its registry URL and integrity.
package npm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"

	"packstash/internal/ports"
	"packstash/internal/resolvers"
	"packstash/internal/types"
)

type lockPackage struct {
	Version      string            `json:"version"`
	Resolved     string            `json:"resolved"`
	Integrity    string            `json:"integrity"`
	Dev          bool              `json:"dev"`
	Link         bool              `json:"link"`
	Dependencies map[string]string `json:"dependencies"`
}

type lockfile struct {
	Name            string                 `json:"name"`
	LockfileVersion int                    `json:"lockfileVersion"`
	Packages        map[string]lockPackage `json:"packages"`
}

type manifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

type Resolver struct {
	Fetcher ports.FetchPort
}

func New(fetcher ports.FetchPort) *Resolver {
	return &Resolver{Fetcher: fetcher}
}

func (r *Resolver) Name() types.Ecosystem { return types.EcosystemNpm }

func (r *Resolver) Applies(projectDir string) bool {
	_, err := os.Stat(filepath.Join(projectDir, "package-lock.json"))
	return err == nil
}

func (r *Resolver) Resolve(ctx context.Context, projectDir string, opts types.EcosystemOptions) (*types.DependencyGraph, error) {
	lock, err := readLockfile(filepath.Join(projectDir, "package-lock.json"))
	if err != nil {
		return nil, err
	}
	declared, err := readManifest(filepath.Join(projectDir, "package.json"))
	if err != nil {
		return nil, err
	}

	graph := types.NewDependencyGraph(types.EcosystemNpm)
	keyByPath := map[string]string{}

	// The "" entry is the project itself; every node_modules path is one
	// locked package. Map iteration order is not stable, so paths are
	// visited in sorted order for deterministic graphs.
	paths := make([]string, 0, len(lock.Packages))
	for pkgPath := range lock.Packages {
		if pkgPath == "" {
			continue
		}
		paths = append(paths, pkgPath)
	}
	sort.Strings(paths)

	for _, pkgPath := range paths {
		entry := lock.Packages[pkgPath]
		// Optional packages install by default (npm drops them only with
		// --omit=optional), so an offline install needs them cached. Only
		// the dev tree is gated.
		if entry.Dev && !opts.IncludeDev {
			continue
		}
		name := nameFromPath(pkgPath)
		if name == "" {
			return nil, lockErr(projectDir, "cannot derive package name from path "+pkgPath)
		}
		node, err := buildNode(name, entry, declared)
		if err != nil {
			return nil, &types.ResolutionError{
				Ecosystem: types.EcosystemNpm,
				Path:      filepath.Join(projectDir, "package-lock.json"),
				Reason:    err.Error(),
			}
		}
		if node == nil {
			continue
		}
		added := graph.Add(node)
		keyByPath[pkgPath] = added.Key()
	}

	// Edges resolve the way node does: the dependency name is looked up
	// in the nearest enclosing node_modules, walking outward.
	for _, pkgPath := range paths {
		fromKey, ok := keyByPath[pkgPath]
		if !ok {
			continue
		}
		for depName := range lock.Packages[pkgPath].Dependencies {
			if toKey, ok := lookupDependency(keyByPath, pkgPath, depName); ok {
				if err := graph.AddEdge(fromKey, toKey); err != nil {
					return nil, lockErr(projectDir, err.Error())
				}
			}
		}
	}

	log.Ctx(ctx).Debug().Int("nodes", graph.Len()).Msg("npm graph resolved")
	return graph, nil
}

func (r *Resolver) FetchAll(ctx context.Context, graph *types.DependencyGraph, opts types.EcosystemOptions) (types.EcosystemReport, error) {
	return resolvers.FetchGraph(ctx, r.Fetcher, graph, opts)
}

func buildNode(name string, entry lockPackage, declared manifest) (*types.DependencyNode, error) {
	role := types.RoleTransitive
	class := types.DepClassRuntime
	if entry.Dev {
		class = types.DepClassDev
	}
	if declaredRange, ok := declared.Dependencies[name]; ok {
		role = types.RoleDirect
		if err := checkRange(name, declaredRange, entry.Version); err != nil {
			return nil, err
		}
	} else if declaredRange, ok := declared.DevDependencies[name]; ok {
		role = types.RoleDirect
		class = types.DepClassDev
		if err := checkRange(name, declaredRange, entry.Version); err != nil {
			return nil, err
		}
	}

	node := &types.DependencyNode{
		Identity: types.Identity{Name: name, Version: entry.Version},
		Class:    class,
		Role:     role,
	}

	switch {
	case entry.Link || strings.HasPrefix(entry.Resolved, "file:"):
		node.Origin = types.Origin{Kind: types.OriginLocal, Path: strings.TrimPrefix(entry.Resolved, "file:")}
		return node, nil

	case strings.HasPrefix(entry.Resolved, "git+"):
		archiveURL, ref, err := gitArchiveURL(entry.Resolved)
		if err != nil {
			return nil, err
		}
		node.Origin = types.Origin{Kind: types.OriginVCS, URL: strings.TrimPrefix(entry.Resolved, "git+"), Ref: ref}
		node.URL = archiveURL
		node.Filename = path.Base(name) + "-" + ref[:12] + ".tar.gz"
		node.TrustComputed = true
		return node, nil

	case entry.Resolved != "":
		if entry.Integrity == "" {
			return nil, fmt.Errorf("registry dependency %s@%s has no integrity value", name, entry.Version)
		}
		digests, err := types.ParseSRI(entry.Integrity)
		if err != nil {
			return nil, fmt.Errorf("dependency %s@%s: %w", name, entry.Version, err)
		}
		node.Origin = types.Origin{Kind: types.OriginRegistry, URL: entry.Resolved}
		node.Digests = digests
		node.URL = entry.Resolved
		node.Filename = path.Base(entry.Resolved)
		return node, nil

	default:
		// Bundled dependencies ship inside their parent tarball.
		return nil, nil
	}
}

// checkRange cross-checks the manifest's declared range against the
// locked version. Divergence means the lockfile does not describe this
// manifest, which is a correctness bug in the inputs.
func checkRange(name string, declaredRange string, version string) error {
	constraint, err := semver.NewConstraint(declaredRange)
	if err != nil {
		// Tags, workspace refs and URLs are not semver ranges; the
		// lockfile is authoritative for those.
		return nil
	}
	locked, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("locked version %q of %s is not semver", version, name)
	}
	if !constraint.Check(locked) {
		return fmt.Errorf("lockfile pins %s@%s which does not satisfy declared range %q", name, version, declaredRange)
	}
	return nil
}

func nameFromPath(pkgPath string) string {
	idx := strings.LastIndex(pkgPath, "node_modules/")
	if idx < 0 {
		return ""
	}
	return pkgPath[idx+len("node_modules/"):]
}

// lookupDependency walks from the dependent's own node_modules outward to
// the root, mirroring node's resolution order.
func lookupDependency(keyByPath map[string]string, fromPath string, depName string) (string, bool) {
	prefix := fromPath
	for {
		candidate := prefix + "/node_modules/" + depName
		if prefix == "" {
			candidate = "node_modules/" + depName
		}
		if key, ok := keyByPath[candidate]; ok {
			return key, true
		}
		if prefix == "" {
			return "", false
		}
		idx := strings.LastIndex(prefix, "/node_modules/")
		if idx < 0 {
			prefix = ""
		} else {
			prefix = prefix[:idx]
		}
	}
}

func gitArchiveURL(resolved string) (string, string, error) {
	raw := strings.TrimPrefix(resolved, "git+")
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("malformed git dependency URL %q: %w", resolved, err)
	}
	ref := parsed.Fragment
	if len(ref) != 40 {
		return "", "", fmt.Errorf("git dependency %q does not pin a full commit", resolved)
	}
	repoPath := strings.TrimSuffix(strings.Trim(parsed.Path, "/"), ".git")
	if parsed.Hostname() != "github.com" {
		return "", "", fmt.Errorf("no archive scheme known for git host %q", parsed.Hostname())
	}
	return "https://codeload.github.com/" + repoPath + "/tar.gz/" + ref, ref, nil
}

func readLockfile(path string) (lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lockfile{}, &types.ResolutionError{
			Ecosystem: types.EcosystemNpm,
			Path:      path,
			Reason:    "cannot read lockfile",
			Err:       err,
		}
	}
	var lock lockfile
	if err := json.Unmarshal(data, &lock); err != nil {
		return lockfile{}, &types.ResolutionError{
			Ecosystem: types.EcosystemNpm,
			Path:      path,
			Reason:    "lockfile is not valid JSON",
			Err:       err,
		}
	}
	if lock.LockfileVersion < 2 {
		return lockfile{}, &types.ResolutionError{
			Ecosystem: types.EcosystemNpm,
			Path:      path,
			Reason:    fmt.Sprintf("lockfile version %d is not supported; regenerate with npm >= 7", lock.LockfileVersion),
		}
	}
	return lock, nil
}

func readManifest(path string) (manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return manifest{}, nil
		}
		return manifest{}, &types.ResolutionError{
			Ecosystem: types.EcosystemNpm,
			Path:      path,
			Reason:    "cannot read package.json",
			Err:       err,
		}
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest{}, &types.ResolutionError{
			Ecosystem: types.EcosystemNpm,
			Path:      path,
			Reason:    "package.json is not valid JSON",
			Err:       err,
		}
	}
	return m, nil
}

func lockErr(projectDir string, reason string) error {
	return &types.ResolutionError{
		Ecosystem: types.EcosystemNpm,
		Path:      filepath.Join(projectDir, "package-lock.json"),
		Reason:    reason,
	}
}
