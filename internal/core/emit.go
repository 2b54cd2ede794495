package core

import (
	"fmt"
	"path/filepath"

	"packstash/internal/types"
)

// Emit derives the environment contract and config-file edits that point
// each ecosystem's native tooling at the offline cache. It is a pure
// function of the Request Output and the cache layout: no I/O, no
// execution, and identical inputs produce identical edits.
//
// Only location redirection is emitted, never anything that changes
// dependency semantics.
func Emit(output types.RequestOutput, cacheRoot string, projectDir string) ([]types.EnvAssignment, []types.FileEdit) {
	present := map[types.Ecosystem]bool{}
	for _, report := range output.Reports {
		if len(report.Components) > 0 {
			present[report.Ecosystem] = true
		}
	}

	var env []types.EnvAssignment
	var edits []types.FileEdit
	for _, ecosystem := range types.AllEcosystems {
		if !present[ecosystem] {
			continue
		}
		subdir := filepath.Join(cacheRoot, string(ecosystem))
		switch ecosystem {
		case types.EcosystemPip:
			env = append(env,
				types.EnvAssignment{Name: "PIP_NO_INDEX", Value: "1"},
				types.EnvAssignment{Name: "PIP_FIND_LINKS", Value: subdir},
			)
			edits = append(edits, types.FileEdit{
				Path:    filepath.Join(projectDir, "pip.conf"),
				Format:  "ini",
				Content: fmt.Sprintf("[global]\nno-index = true\nfind-links = %s\n", subdir),
			})
		case types.EcosystemNpm:
			env = append(env, types.EnvAssignment{Name: "NPM_CONFIG_OFFLINE", Value: "true"})
			edits = append(edits, types.FileEdit{
				Path:    filepath.Join(projectDir, ".npmrc"),
				Format:  "ini",
				Content: fmt.Sprintf("cache=%s\noffline=true\n", filepath.Join(cacheRoot, "npm-cache")),
			})
		case types.EcosystemYarn:
			env = append(env, types.EnvAssignment{Name: "YARN_YARN_OFFLINE_MIRROR", Value: subdir})
		case types.EcosystemGomod:
			env = append(env,
				types.EnvAssignment{Name: "GOMODCACHE", Value: subdir},
				types.EnvAssignment{Name: "GOPROXY", Value: "off"},
				types.EnvAssignment{Name: "GOFLAGS", Value: "-mod=mod"},
			)
		case types.EcosystemRubygems:
			env = append(env,
				types.EnvAssignment{Name: "BUNDLE_CACHE_PATH", Value: subdir},
				types.EnvAssignment{Name: "BUNDLE_DEPLOYMENT", Value: "true"},
			)
		case types.EcosystemCargo:
			env = append(env, types.EnvAssignment{Name: "CARGO_NET_OFFLINE", Value: "true"})
			edits = append(edits, types.FileEdit{
				Path:    filepath.Join(projectDir, ".cargo", "config.toml"),
				Format:  "toml",
				Content: fmt.Sprintf(
					"[source.crates-io]\nreplace-with = \"packstash\"\n\n[source.packstash]\nlocal-registry = %q\n", subdir),
			})
		case types.EcosystemRPM:
			edits = append(edits, types.FileEdit{
				Path:    filepath.Join(projectDir, "packstash.repo"),
				Format:  "ini",
				Content: fmt.Sprintf("[packstash]\nname=packstash offline cache\nbaseurl=file://%s\nenabled=1\ngpgcheck=0\n", subdir),
			})
		}
	}
	return env, edits
}
