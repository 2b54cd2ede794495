package pip

import (
	"fmt"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

// markerEnv is the PEP 508 environment markers are evaluated against.
// Values describe the build platform the offline cache is prepared for.
type markerEnv map[string]string

func defaultMarkerEnv(pythonVersion string) markerEnv {
	return markerEnv{
		"os_name":                        "posix",
		"sys_platform":                   "linux",
		"platform_system":                "Linux",
		"platform_machine":               "x86_64",
		"platform_python_implementation": "CPython",
		"implementation_name":            "cpython",
		"python_version":                 pythonVersion,
		"python_full_version":            pythonVersion + ".0",
		"implementation_version":         pythonVersion + ".0",
		"extra":                          "",
	}
}

// evalMarker evaluates a PEP 508 environment marker expression against
// env. The grammar is the standard one: comparisons of marker variables
// and quoted strings combined with and/or and parentheses, where and
// binds tighter than or. Unknown variables are an error, not a silent
// false: guessing would change which dependencies get fetched.
func evalMarker(expr string, env markerEnv) (bool, error) {
	tokens, err := tokenizeMarker(expr)
	if err != nil {
		return false, err
	}
	parser := &markerParser{tokens: tokens, env: env}
	result, err := parser.parseOr()
	if err != nil {
		return false, err
	}
	if parser.pos != len(parser.tokens) {
		return false, fmt.Errorf("trailing tokens in marker %q", expr)
	}
	return result, nil
}

type markerParser struct {
	tokens []string
	pos    int
	env    markerEnv
}

func (p *markerParser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *markerParser) next() string {
	token := p.peek()
	p.pos++
	return token
}

func (p *markerParser) parseOr() (bool, error) {
	left, err := p.parseAnd()
	if err != nil {
		return false, err
	}
	for p.peek() == "or" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *markerParser) parseAnd() (bool, error) {
	left, err := p.parseFactor()
	if err != nil {
		return false, err
	}
	for p.peek() == "and" {
		p.next()
		right, err := p.parseFactor()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (p *markerParser) parseFactor() (bool, error) {
	if p.peek() == "(" {
		p.next()
		result, err := p.parseOr()
		if err != nil {
			return false, err
		}
		if p.next() != ")" {
			return false, fmt.Errorf("unbalanced parenthesis in marker")
		}
		return result, nil
	}
	return p.parseComparison()
}

func (p *markerParser) parseComparison() (bool, error) {
	left, err := p.parseValue()
	if err != nil {
		return false, err
	}
	op := p.next()
	if op == "not" {
		if p.next() != "in" {
			return false, fmt.Errorf("expected 'in' after 'not' in marker")
		}
		op = "not in"
	}
	right, err := p.parseValue()
	if err != nil {
		return false, err
	}
	return compareMarker(left, op, right)
}

func (p *markerParser) parseValue() (string, error) {
	token := p.next()
	if token == "" {
		return "", fmt.Errorf("unexpected end of marker expression")
	}
	if strings.HasPrefix(token, "'") || strings.HasPrefix(token, "\"") {
		return token[1 : len(token)-1], nil
	}
	value, ok := p.env[token]
	if !ok {
		return "", fmt.Errorf("unknown marker variable %q", token)
	}
	return value, nil
}

func compareMarker(left string, op string, right string) (bool, error) {
	switch op {
	case "in":
		return strings.Contains(right, left), nil
	case "not in":
		return !strings.Contains(right, left), nil
	}

	// Version-aware comparison when both sides parse as PEP 440; plain
	// string comparison otherwise (matches packaging's fallback).
	if lv, err := pep440.Parse(left); err == nil {
		if rv, err := pep440.Parse(right); err == nil {
			return compareOrdered(lv.Compare(rv), op)
		}
	}
	return compareOrdered(strings.Compare(left, right), op)
}

func compareOrdered(cmp int, op string) (bool, error) {
	switch op {
	case "==":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	default:
		return false, fmt.Errorf("unsupported marker operator %q", op)
	}
}

func tokenizeMarker(expr string) ([]string, error) {
	var tokens []string
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(' || c == ')':
			tokens = append(tokens, string(c))
			i++
		case c == '\'' || c == '"':
			end := strings.IndexByte(expr[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("unterminated string in marker %q", expr)
			}
			tokens = append(tokens, expr[i:i+end+2])
			i += end + 2
		case strings.ContainsRune("<>=!~", rune(c)):
			j := i + 1
			for j < len(expr) && strings.ContainsRune("<>=!~", rune(expr[j])) {
				j++
			}
			tokens = append(tokens, expr[i:j])
			i = j
		default:
			j := i
			for j < len(expr) && (isMarkerWordChar(expr[j])) {
				j++
			}
			if j == i {
				return nil, fmt.Errorf("unexpected character %q in marker %q", c, expr)
			}
			tokens = append(tokens, expr[i:j])
			i = j
		}
	}
	return tokens, nil
}

func isMarkerWordChar(c byte) bool {
	return c == '_' || c == '.' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
