// Package rubygems resolves Ruby dependencies from a Bundler Gemfile.lock.
// The lockfile's GEM, GIT and PATH sections pin every version exactly;
// the optional CHECKSUMS section (bundler >= 2.5) supplies sha256 digests.
package rubygems

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"packstash/internal/ports"
	"packstash/internal/resolvers"
	"packstash/internal/types"
)

// gemSpec is one pinned gem from a specs: block.
type gemSpec struct {
	Name     string
	Version  string
	Platform string
	Remote   string
	Kind     types.OriginKind
	Revision string
	Path     string
	Requires []string
}

type Resolver struct {
	Fetcher ports.FetchPort
}

func New(fetcher ports.FetchPort) *Resolver {
	return &Resolver{Fetcher: fetcher}
}

func (r *Resolver) Name() types.Ecosystem { return types.EcosystemRubygems }

func (r *Resolver) Applies(projectDir string) bool {
	_, err := os.Stat(filepath.Join(projectDir, "Gemfile.lock"))
	return err == nil
}

func (r *Resolver) Resolve(ctx context.Context, projectDir string, opts types.EcosystemOptions) (*types.DependencyGraph, error) {
	lockPath := filepath.Join(projectDir, "Gemfile.lock")
	lock, err := parseLock(lockPath)
	if err != nil {
		return nil, err
	}

	graph := types.NewDependencyGraph(types.EcosystemRubygems)
	keyByName := map[string]string{}
	for _, spec := range lock.Specs {
		node, err := specNode(spec, lock.Checksums, opts)
		if err != nil {
			return nil, &types.ResolutionError{Ecosystem: types.EcosystemRubygems, Path: lockPath, Reason: err.Error()}
		}
		if _, ok := lock.Direct[spec.Name]; ok {
			node.Role = types.RoleDirect
		}
		keyByName[spec.Name] = graph.Add(node).Key()
	}
	for _, spec := range lock.Specs {
		for _, depName := range spec.Requires {
			if toKey, ok := keyByName[depName]; ok {
				if err := graph.AddEdge(keyByName[spec.Name], toKey); err != nil {
					return nil, &types.ResolutionError{Ecosystem: types.EcosystemRubygems, Path: lockPath, Reason: err.Error()}
				}
			}
		}
	}

	log.Ctx(ctx).Debug().Int("nodes", graph.Len()).Msg("rubygems graph resolved")
	return graph, nil
}

func (r *Resolver) FetchAll(ctx context.Context, graph *types.DependencyGraph, opts types.EcosystemOptions) (types.EcosystemReport, error) {
	return resolvers.FetchGraph(ctx, r.Fetcher, graph, opts)
}

func specNode(spec gemSpec, checksums map[string]types.Digest, opts types.EcosystemOptions) (*types.DependencyNode, error) {
	node := &types.DependencyNode{
		Identity: types.Identity{Name: spec.Name, Version: spec.Version},
		Class:    types.DepClassRuntime,
		Role:     types.RoleTransitive,
	}
	switch spec.Kind {
	case types.OriginLocal:
		node.Origin = types.Origin{Kind: types.OriginLocal, Path: spec.Path}
		return node, nil

	case types.OriginVCS:
		if len(spec.Revision) != 40 {
			return nil, fmt.Errorf("git gem %s pins no full revision", spec.Name)
		}
		node.Identity.Qualifiers = "ref=" + spec.Revision
		node.Origin = types.Origin{Kind: types.OriginVCS, URL: spec.Remote, Ref: spec.Revision}
		node.URL = vcsArchiveURL(spec.Remote, spec.Revision)
		if node.URL == "" {
			return nil, fmt.Errorf("git gem %s: no archive source for %s", spec.Name, spec.Remote)
		}
		node.Filename = fmt.Sprintf("%s-%s.tar.gz", spec.Name, spec.Revision[:12])
		node.TrustComputed = true
		return node, nil

	default:
		fullVersion := spec.Version
		if spec.Platform != "" {
			node.Binary = true
			node.Identity.Qualifiers = "platform=" + spec.Platform
			fullVersion = spec.Version + "-" + spec.Platform
			if !opts.AllowBinary {
				return nil, fmt.Errorf("gem %s pins platform build %s but binaries are not allowed", spec.Name, fullVersion)
			}
		}
		node.Filename = fmt.Sprintf("%s-%s.gem", spec.Name, fullVersion)
		node.URL = strings.TrimSuffix(spec.Remote, "/") + "/gems/" + node.Filename
		node.Origin = types.Origin{Kind: types.OriginRegistry, URL: node.URL}
		if digest, ok := checksums[spec.Name+" "+fullVersion]; ok {
			node.Digests = []types.Digest{digest}
		}
		return node, nil
	}
}

// vcsArchiveURL maps a git remote to a commit tarball on the known
// forges. Other hosts have no uniform archive endpoint.
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

type lockData struct {
	Specs     []gemSpec
	Direct    map[string]struct{}
	Checksums map[string]types.Digest
}

// parseLock walks Gemfile.lock's indentation-structured sections. Two
// spaces introduce section fields and spec entries, four a pinned gem,
// six a gem's own requirements.
func parseLock(lockPath string) (*lockData, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, &types.ResolutionError{
			Ecosystem: types.EcosystemRubygems,
			Path:      lockPath,
			Reason:    "cannot read lockfile",
			Err:       err,
		}
	}

	lock := &lockData{
		Direct:    map[string]struct{}{},
		Checksums: map[string]types.Digest{},
	}
	var section string
	var remote, revision, pathRemote string
	inSpecs := false
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, " ") {
			section = line
			remote, revision, pathRemote = "", "", ""
			inSpecs = false
			continue
		}
		trimmed := strings.TrimSpace(line)
		indent := len(line) - len(strings.TrimLeft(line, " "))

		switch section {
		case "GEM", "GIT", "PATH":
			switch {
			case indent == 2 && strings.HasPrefix(trimmed, "remote: "):
				remote = strings.TrimPrefix(trimmed, "remote: ")
				if section == "PATH" {
					pathRemote = remote
				}
			case indent == 2 && strings.HasPrefix(trimmed, "revision: "):
				revision = strings.TrimPrefix(trimmed, "revision: ")
			case indent == 2 && trimmed == "specs:":
				inSpecs = true
			case indent == 4 && inSpecs:
				name, version, platform, ok := parseSpecLine(trimmed)
				if !ok {
					return nil, &types.ResolutionError{
						Ecosystem: types.EcosystemRubygems,
						Path:      lockPath,
						Reason:    "unpinned spec line: " + trimmed,
					}
				}
				spec := gemSpec{
					Name: name, Version: version, Platform: platform,
					Remote: remote, Revision: revision, Path: pathRemote,
				}
				switch section {
				case "GIT":
					spec.Kind = types.OriginVCS
				case "PATH":
					spec.Kind = types.OriginLocal
				default:
					spec.Kind = types.OriginRegistry
				}
				lock.Specs = append(lock.Specs, spec)
			case indent == 6 && inSpecs && len(lock.Specs) > 0:
				depName, _, _ := strings.Cut(trimmed, " ")
				last := &lock.Specs[len(lock.Specs)-1]
				last.Requires = append(last.Requires, depName)
			}

		case "DEPENDENCIES":
			name, _, _ := strings.Cut(trimmed, " ")
			lock.Direct[strings.TrimSuffix(name, "!")] = struct{}{}

		case "CHECKSUMS":
			name, version, platform, ok := parseSpecLine(trimmed)
			if !ok {
				continue
			}
			if platform != "" {
				version += "-" + platform
			}
			fields := strings.Fields(trimmed)
			last := fields[len(fields)-1]
			if algo, hex, found := strings.Cut(last, "="); found {
				digest := types.NewDigest(algo, hex)
				if err := digest.Validate(); err != nil {
					return nil, &types.ResolutionError{
						Ecosystem: types.EcosystemRubygems,
						Path:      lockPath,
						Reason:    "malformed checksum for " + name,
						Err:       err,
					}
				}
				lock.Checksums[name+" "+version] = digest
			}
		}
	}
	if len(lock.Specs) == 0 {
		return nil, &types.ResolutionError{
			Ecosystem: types.EcosystemRubygems,
			Path:      lockPath,
			Reason:    "lockfile declares no gems",
		}
	}
	return lock, nil
}

// parseSpecLine splits "name (version[-platform])" into its parts. The
// platform suffix starts at the first dash after the numeric version.
func parseSpecLine(line string) (name, version, platform string, ok bool) {
	open := strings.Index(line, " (")
	end := strings.Index(line, ")")
	if open < 0 || end < open {
		return "", "", "", false
	}
	name = line[:open]
	version = line[open+2 : end]
	if dash := strings.IndexByte(version, '-'); dash > 0 {
		version, platform = version[:dash], version[dash+1:]
	}
	return name, version, platform, true
}
