package pip

import (
	"os"
	"path/filepath"
	"strings"

	"packstash/internal/shared"
	"packstash/internal/types"
)

// requirement is one parsed requirements.txt line.
type requirement struct {
	Name       string
	Extras     string
	Specifiers string
	Pinned     string
	Marker     string
	Hashes     []types.Digest
	VCSURL     string
	VCSRef     string
	LocalPath  string
	SourceFile string
}

func (r requirement) isVCS() bool   { return r.VCSURL != "" }
func (r requirement) isLocal() bool { return r.LocalPath != "" }

// parseRequirementsFile reads a requirements file into requirement values.
// Supports comments, backslash continuations, nested -r includes, --hash
// options, editable/VCS lines, and PEP 508 name[extras]spec;marker lines.
// Index-redirection options are rejected: the resolver's declared index is
// the only permitted source.
func parseRequirementsFile(path string) ([]requirement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.ResolutionError{
			Ecosystem: types.EcosystemPip,
			Path:      path,
			Reason:    "cannot read requirements file",
			Err:       err,
		}
	}

	var out []requirement
	lines := joinContinuations(strings.Split(string(data), "\n"))
	for _, line := range lines {
		line = stripComment(line)
		if strings.TrimSpace(line) == "" {
			continue
		}
		req, include, err := parseRequirementLine(line, path)
		if err != nil {
			return nil, err
		}
		if include != "" {
			nested, err := parseRequirementsFile(filepath.Join(filepath.Dir(path), include))
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func parseRequirementLine(line string, sourceFile string) (requirement, string, error) {
	fields := strings.Fields(line)
	req := requirement{SourceFile: sourceFile}

	// Requirement-level options come after the specifier; file-level options
	// lead the line.
	switch fields[0] {
	case "-r", "--requirement":
		if len(fields) < 2 {
			return req, "", parseErr(sourceFile, line, "-r needs a file argument")
		}
		return req, fields[1], nil
	case "-e", "--editable":
		if len(fields) < 2 {
			return req, "", parseErr(sourceFile, line, "-e needs an argument")
		}
		fields = fields[1:]
	case "-i", "--index-url", "--extra-index-url", "--find-links", "-f":
		return req, "", parseErr(sourceFile, line, "index redirection options are not allowed in a hermetic request")
	}

	var specParts []string
	for _, field := range fields {
		switch {
		case strings.HasPrefix(field, "--hash="):
			digest := types.Digest(strings.TrimPrefix(field, "--hash="))
			if err := digest.Validate(); err != nil {
				return req, "", parseErr(sourceFile, line, "invalid --hash value: "+err.Error())
			}
			req.Hashes = append(req.Hashes, digest)
		case strings.HasPrefix(field, "--"):
			return req, "", parseErr(sourceFile, line, "unsupported option "+field)
		default:
			specParts = append(specParts, field)
		}
	}
	spec := strings.Join(specParts, " ")

	if isVCSSpec(spec) {
		return parseVCSRequirement(req, spec, sourceFile, line)
	}
	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") || spec == "." {
		req.LocalPath = spec
		req.Name = filepath.Base(strings.TrimRight(spec, "/"))
		return req, "", nil
	}
	return parsePEP508(req, spec, sourceFile, line)
}

func parsePEP508(req requirement, spec string, sourceFile string, line string) (requirement, string, error) {
	if marker, found := splitMarker(spec); found {
		req.Marker = strings.TrimSpace(marker)
		spec = spec[:len(spec)-len(marker)-1]
	}
	spec = strings.TrimSpace(spec)

	nameEnd := strings.IndexAny(spec, "[<>=!~ ")
	if nameEnd < 0 {
		nameEnd = len(spec)
	}
	req.Name = shared.NormalizePipName(spec[:nameEnd])
	if req.Name == "" {
		return req, "", parseErr(sourceFile, line, "missing package name")
	}
	rest := strings.TrimSpace(spec[nameEnd:])

	if strings.HasPrefix(rest, "[") {
		closing := strings.Index(rest, "]")
		if closing < 0 {
			return req, "", parseErr(sourceFile, line, "unterminated extras")
		}
		req.Extras = strings.ReplaceAll(rest[1:closing], " ", "")
		rest = strings.TrimSpace(rest[closing+1:])
	}

	req.Specifiers = strings.ReplaceAll(rest, " ", "")
	if version, ok := exactPin(req.Specifiers); ok {
		req.Pinned = version
	}
	return req, "", nil
}

func parseVCSRequirement(req requirement, spec string, sourceFile string, line string) (requirement, string, error) {
	// git+https://host/org/repo@ref#egg=name
	rawURL := spec
	if eggIdx := strings.Index(rawURL, "#egg="); eggIdx >= 0 {
		req.Name = shared.NormalizePipName(rawURL[eggIdx+len("#egg="):])
		rawURL = rawURL[:eggIdx]
	}
	rawURL = strings.TrimPrefix(rawURL, "git+")
	atIdx := strings.LastIndex(rawURL, "@")
	if atIdx <= strings.Index(rawURL, "://") {
		return req, "", parseErr(sourceFile, line, "VCS requirement must pin an explicit ref")
	}
	req.VCSRef = rawURL[atIdx+1:]
	req.VCSURL = rawURL[:atIdx]
	if req.Name == "" {
		return req, "", parseErr(sourceFile, line, "VCS requirement needs #egg=<name>")
	}
	if len(req.VCSRef) != 40 {
		return req, "", parseErr(sourceFile, line, "VCS ref must be a full commit hash for reproducibility")
	}
	return req, "", nil
}

// exactPin reports the version when the specifier set is a single ==pin
// (optionally with other clauses, in which case it is not exact).
func exactPin(specifiers string) (string, bool) {
	if specifiers == "" || strings.Contains(specifiers, ",") {
		return "", false
	}
	if strings.HasPrefix(specifiers, "==") && !strings.HasSuffix(specifiers, ".*") {
		version := strings.TrimPrefix(specifiers, "==")
		if !strings.ContainsAny(version, "<>!~=") {
			return version, true
		}
	}
	return "", false
}

// splitMarker finds an unquoted top-level ';' separating spec from marker.
func splitMarker(spec string) (string, bool) {
	inQuote := byte(0)
	for i := 0; i < len(spec); i++ {
		c := spec[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
		case c == ';':
			return spec[i+1:], true
		}
	}
	return "", false
}

func isVCSSpec(spec string) bool {
	for _, prefix := range []string{"git+http://", "git+https://", "git+ssh://"} {
		if strings.HasPrefix(spec, prefix) {
			return true
		}
	}
	return false
}

func joinContinuations(lines []string) []string {
	var out []string
	var pending string
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasSuffix(trimmed, "\\") {
			pending += strings.TrimSuffix(trimmed, "\\")
			continue
		}
		out = append(out, pending+trimmed)
		pending = ""
	}
	if pending != "" {
		out = append(out, pending)
	}
	return out
}

func stripComment(line string) string {
	inQuote := byte(0)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
		case c == '#':
			// URL fragments (#egg=) are not comments; a comment hash is
			// at line start or preceded by whitespace.
			if i == 0 || line[i-1] == ' ' || line[i-1] == '\t' {
				return line[:i]
			}
		}
	}
	return line
}

func parseErr(path string, line string, reason string) error {
	return &types.ResolutionError{
		Ecosystem: types.EcosystemPip,
		Path:      path,
		Reason:    reason + " in line " + strings.TrimSpace(line),
	}
}
