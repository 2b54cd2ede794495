// Package yarn resolves Node dependencies from a classic (v1) yarn.lock.
// Like the npm resolver it trusts only the lockfile's declarative content
// and never runs lifecycle scripts.
package yarn

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"packstash/internal/ports"
	"packstash/internal/resolvers"
	"packstash/internal/types"
)

// lockEntry is one resolved block of a classic yarn.lock.
type lockEntry struct {
	Selectors    []string
	Version      string
	Resolved     string
	Integrity    string
	Dependencies map[string]string
}

type Resolver struct {
	Fetcher ports.FetchPort
}

func New(fetcher ports.FetchPort) *Resolver {
	return &Resolver{Fetcher: fetcher}
}

func (r *Resolver) Name() types.Ecosystem { return types.EcosystemYarn }

func (r *Resolver) Applies(projectDir string) bool {
	_, err := os.Stat(filepath.Join(projectDir, "yarn.lock"))
	return err == nil
}

func (r *Resolver) Resolve(ctx context.Context, projectDir string, opts types.EcosystemOptions) (*types.DependencyGraph, error) {
	lockPath := filepath.Join(projectDir, "yarn.lock")
	entries, err := parseLock(lockPath)
	if err != nil {
		return nil, err
	}
	direct, err := readDirectNames(filepath.Join(projectDir, "package.json"), opts.IncludeDev)
	if err != nil {
		return nil, err
	}

	graph := types.NewDependencyGraph(types.EcosystemYarn)
	keyBySelector := map[string]string{}
	for _, entry := range entries {
		name := nameFromSelector(entry.Selectors[0])
		node := &types.DependencyNode{
			Identity: types.Identity{Name: name, Version: entry.Version},
			Class:    types.DepClassRuntime,
			Role:     types.RoleTransitive,
		}
		if _, ok := direct[name]; ok {
			node.Role = types.RoleDirect
		}
		if err := fillOrigin(node, entry); err != nil {
			return nil, &types.ResolutionError{
				Ecosystem: types.EcosystemYarn,
				Path:      lockPath,
				Reason:    err.Error(),
			}
		}
		added := graph.Add(node)
		for _, selector := range entry.Selectors {
			keyBySelector[selector] = added.Key()
		}
	}
	for _, entry := range entries {
		fromKey := keyBySelector[entry.Selectors[0]]
		for depName, depRange := range entry.Dependencies {
			if toKey, ok := keyBySelector[depName+"@"+depRange]; ok {
				if err := graph.AddEdge(fromKey, toKey); err != nil {
					return nil, &types.ResolutionError{Ecosystem: types.EcosystemYarn, Path: lockPath, Reason: err.Error()}
				}
			}
		}
	}

	log.Ctx(ctx).Debug().Int("nodes", graph.Len()).Msg("yarn graph resolved")
	return graph, nil
}

func (r *Resolver) FetchAll(ctx context.Context, graph *types.DependencyGraph, opts types.EcosystemOptions) (types.EcosystemReport, error) {
	return resolvers.FetchGraph(ctx, r.Fetcher, graph, opts)
}

func fillOrigin(node *types.DependencyNode, entry lockEntry) error {
	if entry.Resolved == "" {
		return fmt.Errorf("entry %s has no resolved URL", entry.Selectors[0])
	}
	resolved := entry.Resolved
	var sha1Fragment string
	if idx := strings.LastIndex(resolved, "#"); idx >= 0 {
		sha1Fragment = resolved[idx+1:]
		resolved = resolved[:idx]
	}

	switch {
	case entry.Integrity != "":
		digests, err := types.ParseSRI(entry.Integrity)
		if err != nil {
			return fmt.Errorf("entry %s: %w", entry.Selectors[0], err)
		}
		node.Digests = digests
	case len(sha1Fragment) == 40:
		// Older yarn lockfiles carry only the legacy sha1 fragment.
		node.Digests = []types.Digest{types.NewDigest("sha1", sha1Fragment)}
	default:
		return fmt.Errorf("entry %s declares no integrity", entry.Selectors[0])
	}

	node.Origin = types.Origin{Kind: types.OriginRegistry, URL: resolved}
	node.URL = resolved
	node.Filename = path.Base(resolved)
	return nil
}

// parseLock reads the line-oriented classic yarn.lock format: unindented
// comma-separated selector lines ending in a colon, followed by a
// two-space-indented block of fields.
func parseLock(lockPath string) ([]lockEntry, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, &types.ResolutionError{
			Ecosystem: types.EcosystemYarn,
			Path:      lockPath,
			Reason:    "cannot read lockfile",
			Err:       err,
		}
	}
	if strings.Contains(string(data), "__metadata:") {
		return nil, &types.ResolutionError{
			Ecosystem: types.EcosystemYarn,
			Path:      lockPath,
			Reason:    "yarn berry lockfiles are not supported, use a classic (v1) lockfile",
		}
	}

	var entries []lockEntry
	var current *lockEntry
	inDependencies := false
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case !strings.HasPrefix(line, " "):
			if !strings.HasSuffix(line, ":") {
				return nil, &types.ResolutionError{
					Ecosystem: types.EcosystemYarn,
					Path:      lockPath,
					Reason:    "malformed selector line: " + line,
				}
			}
			entries = append(entries, lockEntry{Selectors: splitSelectors(strings.TrimSuffix(line, ":"))})
			current = &entries[len(entries)-1]
			inDependencies = false

		case strings.HasPrefix(line, "    "):
			if current == nil || !inDependencies {
				continue
			}
			name, value := splitField(strings.TrimSpace(line))
			if current.Dependencies == nil {
				current.Dependencies = map[string]string{}
			}
			current.Dependencies[name] = value

		default:
			if current == nil {
				continue
			}
			field := strings.TrimSpace(line)
			if field == "dependencies:" || field == "optionalDependencies:" {
				inDependencies = true
				continue
			}
			inDependencies = false
			name, value := splitField(field)
			switch name {
			case "version":
				current.Version = value
			case "resolved":
				current.Resolved = value
			case "integrity":
				current.Integrity = value
			}
		}
	}
	return entries, nil
}

func splitSelectors(line string) []string {
	parts := strings.Split(line, ",")
	for i, part := range parts {
		parts[i] = unquote(strings.TrimSpace(part))
	}
	return parts
}

func splitField(field string) (string, string) {
	name, value, _ := strings.Cut(field, " ")
	return unquote(name), unquote(strings.TrimSpace(value))
}

func unquote(value string) string {
	return strings.Trim(value, "\"")
}

// nameFromSelector extracts the package name from "name@range", keeping
// the scope for scoped packages ("@babel/core@^7.0.0").
func nameFromSelector(selector string) string {
	idx := strings.LastIndex(selector, "@")
	if idx <= 0 {
		return selector
	}
	return selector[:idx]
}

func readDirectNames(manifestPath string, includeDev bool) (map[string]struct{}, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, &types.ResolutionError{
			Ecosystem: types.EcosystemYarn,
			Path:      manifestPath,
			Reason:    "cannot read package.json",
			Err:       err,
		}
	}
	var m struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &types.ResolutionError{
			Ecosystem: types.EcosystemYarn,
			Path:      manifestPath,
			Reason:    "package.json is not valid JSON",
			Err:       err,
		}
	}
	direct := map[string]struct{}{}
	for name := range m.Dependencies {
		direct[name] = struct{}{}
	}
	if includeDev {
		for name := range m.DevDependencies {
			direct[name] = struct{}{}
		}
	}
	return direct, nil
}
