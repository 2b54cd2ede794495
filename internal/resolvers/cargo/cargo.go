// Package cargo resolves Rust crate dependencies from Cargo.lock (v3).
// Registry crates carry a sha256 checksum in the lockfile; git sources pin
// a full commit in their source fragment.
package cargo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"

	"packstash/internal/ports"
	"packstash/internal/resolvers"
	"packstash/internal/types"
)

const cratesDownloadBase = "https://static.crates.io/crates"

type lockfile struct {
	Version  int           `toml:"version"`
	Packages []lockPackage `toml:"package"`
}

type lockPackage struct {
	Name         string   `toml:"name"`
	Version      string   `toml:"version"`
	Source       string   `toml:"source"`
	Checksum     string   `toml:"checksum"`
	Dependencies []string `toml:"dependencies"`
}

type manifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Dependencies      map[string]toml.Primitive `toml:"dependencies"`
	DevDependencies   map[string]toml.Primitive `toml:"dev-dependencies"`
	BuildDependencies map[string]toml.Primitive `toml:"build-dependencies"`
}

type Resolver struct {
	Fetcher ports.FetchPort
}

func New(fetcher ports.FetchPort) *Resolver {
	return &Resolver{Fetcher: fetcher}
}

func (r *Resolver) Name() types.Ecosystem { return types.EcosystemCargo }

func (r *Resolver) Applies(projectDir string) bool {
	_, err := os.Stat(filepath.Join(projectDir, "Cargo.lock"))
	return err == nil
}

func (r *Resolver) Resolve(ctx context.Context, projectDir string, opts types.EcosystemOptions) (*types.DependencyGraph, error) {
	lockPath := filepath.Join(projectDir, "Cargo.lock")
	var lock lockfile
	if _, err := toml.DecodeFile(lockPath, &lock); err != nil {
		return nil, &types.ResolutionError{
			Ecosystem: types.EcosystemCargo,
			Path:      lockPath,
			Reason:    "Cargo.lock does not parse",
			Err:       err,
		}
	}
	if lock.Version < 3 {
		return nil, &types.ResolutionError{
			Ecosystem: types.EcosystemCargo,
			Path:      lockPath,
			Reason:    fmt.Sprintf("lockfile version %d is too old, regenerate with a current cargo", lock.Version),
		}
	}
	rootName, direct, dev, err := readManifestRoles(filepath.Join(projectDir, "Cargo.toml"))
	if err != nil {
		return nil, err
	}

	graph := types.NewDependencyGraph(types.EcosystemCargo)
	keyByName := map[string]string{}
	for _, pkg := range lock.Packages {
		if pkg.Source == "" && pkg.Name == rootName {
			// The workspace root is the project itself, not a dependency.
			continue
		}
		if _, devOnly := dev[pkg.Name]; devOnly && !opts.IncludeDev {
			continue
		}
		node, err := packageNode(pkg)
		if err != nil {
			return nil, &types.ResolutionError{Ecosystem: types.EcosystemCargo, Path: lockPath, Reason: err.Error()}
		}
		if _, ok := direct[pkg.Name]; ok {
			node.Role = types.RoleDirect
		}
		if _, ok := dev[pkg.Name]; ok {
			node.Role = types.RoleDirect
			node.Class = types.DepClassDev
		}
		keyByName[pkg.Name] = graph.Add(node).Key()
	}
	for _, pkg := range lock.Packages {
		fromKey, ok := keyByName[pkg.Name]
		if !ok {
			continue
		}
		for _, dep := range pkg.Dependencies {
			depName, _, _ := strings.Cut(dep, " ")
			if toKey, ok := keyByName[depName]; ok {
				if err := graph.AddEdge(fromKey, toKey); err != nil {
					return nil, &types.ResolutionError{Ecosystem: types.EcosystemCargo, Path: lockPath, Reason: err.Error()}
				}
			}
		}
	}

	log.Ctx(ctx).Debug().Int("nodes", graph.Len()).Msg("cargo graph resolved")
	return graph, nil
}

func (r *Resolver) FetchAll(ctx context.Context, graph *types.DependencyGraph, opts types.EcosystemOptions) (types.EcosystemReport, error) {
	return resolvers.FetchGraph(ctx, r.Fetcher, graph, opts)
}

// packageNode maps one lockfile package to a fetchable node. Packages
// without a source are workspace members and resolve locally.
func packageNode(pkg lockPackage) (*types.DependencyNode, error) {
	node := &types.DependencyNode{
		Identity: types.Identity{Name: pkg.Name, Version: pkg.Version},
		Class:    types.DepClassRuntime,
		Role:     types.RoleTransitive,
	}
	switch {
	case pkg.Source == "":
		node.Origin = types.Origin{Kind: types.OriginLocal, Path: pkg.Name}
		return node, nil

	case strings.HasPrefix(pkg.Source, "registry+"):
		if len(pkg.Checksum) != 64 {
			return nil, fmt.Errorf("crate %s@%s has no sha256 checksum", pkg.Name, pkg.Version)
		}
		node.Digests = []types.Digest{types.NewDigest("sha256", pkg.Checksum)}
		node.Filename = fmt.Sprintf("%s-%s.crate", pkg.Name, pkg.Version)
		node.URL = fmt.Sprintf("%s/%s/%s", cratesDownloadBase, pkg.Name, node.Filename)
		node.Origin = types.Origin{Kind: types.OriginRegistry, URL: node.URL}
		return node, nil

	case strings.HasPrefix(pkg.Source, "git+"):
		revision := gitRevision(pkg.Source)
		if len(revision) != 40 {
			return nil, fmt.Errorf("crate %s@%s pins no full git revision in %q", pkg.Name, pkg.Version, pkg.Source)
		}
		remote := strings.TrimPrefix(pkg.Source, "git+")
		if idx := strings.IndexAny(remote, "?#"); idx >= 0 {
			remote = remote[:idx]
		}
		node.Identity.Qualifiers = "ref=" + revision
		node.Origin = types.Origin{Kind: types.OriginVCS, URL: remote, Ref: revision}
		node.URL = vcsArchiveURL(remote, revision)
		if node.URL == "" {
			return nil, fmt.Errorf("crate %s@%s: no archive source for %s", pkg.Name, pkg.Version, remote)
		}
		node.Filename = fmt.Sprintf("%s-%s.tar.gz", pkg.Name, revision[:12])
		node.TrustComputed = true
		return node, nil

	default:
		return nil, fmt.Errorf("crate %s@%s has unsupported source %q", pkg.Name, pkg.Version, pkg.Source)
	}
}

// gitRevision pulls the pinned commit out of a lockfile git source, which
// carries it as the URL fragment: "git+https://host/repo?rev=v1#<commit>".
func gitRevision(source string) string {
	if idx := strings.LastIndex(source, "#"); idx >= 0 {
		return source[idx+1:]
	}
	return ""
}

func vcsArchiveURL(remote string, revision string) string {
	trimmed := strings.TrimSuffix(remote, ".git")
	switch {
	case strings.HasPrefix(trimmed, "https://github.com/"):
		return strings.Replace(trimmed, "https://github.com/", "https://codeload.github.com/", 1) +
			"/tar.gz/" + revision
	case strings.HasPrefix(trimmed, "https://gitlab.com/"):
		return trimmed + "/-/archive/" + revision + "/archive.tar.gz"
	}
	return ""
}

// readManifestRoles reads Cargo.toml for the project package name and its
// direct dependency names. Dev-only names are tracked separately so they
// can be classified and optionally skipped.
func readManifestRoles(manifestPath string) (rootName string, direct, dev map[string]struct{}, err error) {
	direct = map[string]struct{}{}
	dev = map[string]struct{}{}
	var m manifest
	if _, err := toml.DecodeFile(manifestPath, &m); err != nil {
		if os.IsNotExist(err) {
			return "", direct, dev, nil
		}
		return "", nil, nil, &types.ResolutionError{
			Ecosystem: types.EcosystemCargo,
			Path:      manifestPath,
			Reason:    "Cargo.toml does not parse",
			Err:       err,
		}
	}
	for name := range m.Dependencies {
		direct[name] = struct{}{}
	}
	for name := range m.BuildDependencies {
		direct[name] = struct{}{}
	}
	for name := range m.DevDependencies {
		if _, ok := direct[name]; !ok {
			dev[name] = struct{}{}
		}
	}
	return m.Package.Name, direct, dev, nil
}
