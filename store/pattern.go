package store

import "strings"

// Wildcard matches any substring inside a target pattern.
const Wildcard = "*"

// Pattern matches target URIs. A pattern without Wildcard matches by equality.
type Pattern struct {
	raw   string
	parts []string
}

func ParsePattern(s string) Pattern {
	p := Pattern{raw: s}
	if strings.Contains(s, Wildcard) {
		p.parts = strings.Split(s, Wildcard)
	}
	return p
}

func (p Pattern) String() string { return p.raw }

func (p Pattern) HasWildcard() bool { return p.parts != nil }

// Match reports whether uri matches the pattern.
func (p Pattern) Match(uri string) bool {
	if !p.HasWildcard() {
		return uri == p.raw
	}
	first, last := p.parts[0], p.parts[len(p.parts)-1]
	if !strings.HasPrefix(uri, first) {
		return false
	}
	rest := uri[len(first):]
	for _, mid := range p.parts[1 : len(p.parts)-1] {
		i := strings.Index(rest, mid)
		if i < 0 {
			return false
		}
		rest = rest[i+len(mid):]
	}
	return strings.HasSuffix(rest, last)
}

// Like translates the pattern into a SQL LIKE operand using '\' as the
// escape character. Literal '%' and '_' are escaped.
func (p Pattern) Like() string {
	var b strings.Builder
	for _, r := range p.raw {
		switch r {
		case '\\', '%', '_':
			b.WriteRune('\\')
			b.WriteRune(r)
		case '*':
			b.WriteRune('%')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MatchAny reports whether uri matches at least one pattern.
func MatchAny(patterns []Pattern, uri string) bool {
	for _, p := range patterns {
		if p.Match(uri) {
			return true
		}
	}
	return false
}

func ParsePatterns(raw []string) []Pattern {
	out := make([]Pattern, 0, len(raw))
	for _, s := range raw {
		out = append(out, ParsePattern(s))
	}
	return out
}
