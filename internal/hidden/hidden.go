// Package hidden implements glob-pattern matching of file basenames
// against the configured hide-patterns (C11).
package hidden

import (
	"strings"

	"github.com/gobwas/glob"
)

// Pattern is one compiled hide-pattern. A trailing "/" restricts the
// match to directories.
type Pattern struct {
	g       glob.Glob
	dirOnly bool
	raw     string
}

// Compile compiles the ordered list of glob patterns from
// spec.md §4.12. Patterns that fail to compile are skipped rather
// than failing the whole set, since hide-patterns are cosmetic, not
// security-critical (the access tree is what actually gates access).
func Compile(patterns []string) []Pattern {
	out := make([]Pattern, 0, len(patterns))
	for _, p := range patterns {
		raw := p
		dirOnly := strings.HasSuffix(p, "/")
		body := strings.TrimSuffix(p, "/")
		g, err := glob.Compile(body, '/')
		if err != nil {
			continue
		}
		out = append(out, Pattern{g: g, dirOnly: dirOnly, raw: raw})
	}
	return out
}

// IsHidden reports whether name (a basename, not a path) matches any
// compiled pattern, honoring each pattern's dir-only suffix.
func IsHidden(patterns []Pattern, name string, isDir bool) bool {
	for _, p := range patterns {
		if p.dirOnly && !isDir {
			continue
		}
		if p.g.Match(name) {
			return true
		}
	}
	return false
}
