// Package rpm resolves RPM dependencies from an rpms.lock.yaml lockfile,
// the resolved per-architecture package list produced ahead of time by an
// rpm lockfile generator. Nothing is solved here: every package already
// carries an exact URL and checksum.
package rpm

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	debversion "github.com/knqyf263/go-deb-version"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"packstash/internal/ports"
	"packstash/internal/resolvers"
	"packstash/internal/types"
)

const LockfileName = "rpms.lock.yaml"

type lockfile struct {
	LockfileVersion int        `yaml:"lockfileVersion"`
	Arches          []archLock `yaml:"arches"`
}

type archLock struct {
	Arch     string        `yaml:"arch"`
	Packages []lockPackage `yaml:"packages"`
	Source   []lockPackage `yaml:"source"`
}

type lockPackage struct {
	Name      string `yaml:"name"`
	EVR       string `yaml:"evr"`
	URL       string `yaml:"url"`
	RepoID    string `yaml:"repoid"`
	Checksum  string `yaml:"checksum"`
	SourceRPM string `yaml:"sourcerpm"`
}

type Resolver struct {
	Fetcher ports.FetchPort
}

func New(fetcher ports.FetchPort) *Resolver {
	return &Resolver{Fetcher: fetcher}
}

func (r *Resolver) Name() types.Ecosystem { return types.EcosystemRPM }

func (r *Resolver) Applies(projectDir string) bool {
	_, err := os.Stat(filepath.Join(projectDir, LockfileName))
	return err == nil
}

func (r *Resolver) Resolve(ctx context.Context, projectDir string, opts types.EcosystemOptions) (*types.DependencyGraph, error) {
	lockPath := filepath.Join(projectDir, LockfileName)
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, &types.ResolutionError{
			Ecosystem: types.EcosystemRPM,
			Path:      lockPath,
			Reason:    "cannot read lockfile",
			Err:       err,
		}
	}
	var lock lockfile
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return nil, &types.ResolutionError{
			Ecosystem: types.EcosystemRPM,
			Path:      lockPath,
			Reason:    "lockfile is not valid YAML",
			Err:       err,
		}
	}
	if lock.LockfileVersion != 1 {
		return nil, &types.ResolutionError{
			Ecosystem: types.EcosystemRPM,
			Path:      lockPath,
			Reason:    fmt.Sprintf("unsupported lockfileVersion %d", lock.LockfileVersion),
		}
	}

	graph := types.NewDependencyGraph(types.EcosystemRPM)
	for _, arch := range lock.Arches {
		for _, pkg := range arch.Packages {
			if err := addPackage(graph, pkg, arch.Arch, lockPath); err != nil {
				return nil, err
			}
		}
		for _, pkg := range arch.Source {
			if err := addPackage(graph, pkg, "src", lockPath); err != nil {
				return nil, err
			}
		}
	}
	if graph.Len() == 0 {
		return nil, &types.ResolutionError{
			Ecosystem: types.EcosystemRPM,
			Path:      lockPath,
			Reason:    "lockfile declares no packages",
		}
	}

	log.Ctx(ctx).Debug().Int("nodes", graph.Len()).Msg("rpm graph resolved")
	return graph, nil
}

func (r *Resolver) FetchAll(ctx context.Context, graph *types.DependencyGraph, opts types.EcosystemOptions) (types.EcosystemReport, error) {
	return resolvers.FetchGraph(ctx, r.Fetcher, graph, opts)
}

func addPackage(graph *types.DependencyGraph, pkg lockPackage, arch string, lockPath string) error {
	node, err := packageNode(pkg, arch)
	if err != nil {
		return &types.ResolutionError{Ecosystem: types.EcosystemRPM, Path: lockPath, Reason: err.Error()}
	}
	if existing := graph.Node(node.Key()); existing != nil && existing.URL != node.URL {
		// The same name-evr-arch pinned to two different URLs is a
		// self-contradicting lockfile, not a choice to make here.
		return &types.ResolutionError{
			Ecosystem: types.EcosystemRPM,
			Path:      lockPath,
			Reason:    fmt.Sprintf("package %s pinned to conflicting URLs %s and %s", node.Key(), existing.URL, node.URL),
		}
	}
	graph.Add(node)
	return nil
}

func packageNode(pkg lockPackage, arch string) (*types.DependencyNode, error) {
	if pkg.URL == "" {
		return nil, fmt.Errorf("package %s has no URL", pkg.Name)
	}
	if _, err := debversion.NewVersion(pkg.EVR); err != nil {
		return nil, fmt.Errorf("package %s has malformed EVR %q: %w", pkg.Name, pkg.EVR, err)
	}
	node := &types.DependencyNode{
		Identity: types.Identity{Name: pkg.Name, Version: pkg.EVR, Qualifiers: "arch=" + arch},
		Origin:   types.Origin{Kind: types.OriginRegistry, URL: pkg.URL},
		Class:    types.DepClassRuntime,
		Role:     types.RoleDirect,
		Filename: path.Base(pkg.URL),
		URL:      pkg.URL,
		Binary:   arch != "src" && arch != "noarch",
	}
	if pkg.Checksum != "" {
		algo, hex, found := strings.Cut(pkg.Checksum, ":")
		if !found {
			return nil, fmt.Errorf("package %s has malformed checksum %q", pkg.Name, pkg.Checksum)
		}
		digest := types.NewDigest(algo, hex)
		if err := digest.Validate(); err != nil {
			return nil, fmt.Errorf("package %s: %w", pkg.Name, err)
		}
		node.Digests = []types.Digest{digest}
	}
	return node, nil
}
