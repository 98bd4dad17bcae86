// Package scope computes glob file scopes for chains, detects
// conflicts between them, and enforces exclusion with advisory locks.
package scope

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Conflict describes one pair of chains whose scopes overlap.
type Conflict struct {
	ChainA   string
	ChainB   string
	Patterns []string // offending pattern pairs, "a <-> b"
}

// ConflictError is the itemized report returned when a candidate set
// cannot run concurrently. No chain in the set has been started.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	var b strings.Builder
	b.WriteString("scope conflicts prevent concurrent execution:")
	for _, c := range e.Conflicts {
		fmt.Fprintf(&b, " [%s <-> %s: %s]", c.ChainA, c.ChainB, strings.Join(c.Patterns, ", "))
	}
	return b.String()
}

// ChainScope binds a chain id to its aggregated file scope.
type ChainScope struct {
	ChainID  string
	Patterns []string
}

// hasMeta reports whether a pattern segment contains glob metacharacters.
func hasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// staticPrefix returns the leading path segments of a pattern that
// contain no metacharacters.
func staticPrefix(pattern string) string {
	segs := strings.Split(pattern, "/")
	var static []string
	for _, seg := range segs {
		if hasMeta(seg) {
			break
		}
		static = append(static, seg)
	}
	return strings.Join(static, "/")
}

// isPathPrefix reports whether a is b, or a parent directory of b.
func isPathPrefix(a, b string) bool {
	if a == "" || b == "" {
		// An empty static prefix means the pattern can match anywhere
		// in the tree (e.g. "**/*.go"), which overlaps everything.
		return true
	}
	return a == b || strings.HasPrefix(b, a+"/")
}

// PatternsOverlap reports whether two glob patterns can match a common
// path. A directory pattern overlaps every pattern nested under it.
func PatternsOverlap(a, b string) bool {
	a = strings.TrimSuffix(strings.TrimSpace(a), "/")
	b = strings.TrimSuffix(strings.TrimSpace(b), "/")
	if a == "" || b == "" {
		return false
	}

	aMeta := hasMeta(a)
	bMeta := hasMeta(b)

	switch {
	case !aMeta && !bMeta:
		return isPathPrefix(a, b) || isPathPrefix(b, a)
	case aMeta && !bMeta:
		if ok, err := doublestar.Match(a, b); err == nil && ok {
			return true
		}
		return isPathPrefix(b, staticPrefix(a))
	case !aMeta && bMeta:
		return PatternsOverlap(b, a)
	default:
		// Both globs: overlap iff their static prefixes nest.
		pa, pb := staticPrefix(a), staticPrefix(b)
		return isPathPrefix(pa, pb) || isPathPrefix(pb, pa)
	}
}

// HasOverlap reports whether two scopes can touch a common path.
// An empty scope never conflicts with anything.
func HasOverlap(scopeA, scopeB []string) bool {
	if len(scopeA) == 0 || len(scopeB) == 0 {
		return false
	}
	for _, a := range scopeA {
		for _, b := range scopeB {
			if PatternsOverlap(a, b) {
				return true
			}
		}
	}
	return false
}

// overlappingPatterns returns the pattern pairs shared by two scopes.
func overlappingPatterns(scopeA, scopeB []string) []string {
	var out []string
	for _, a := range scopeA {
		for _, b := range scopeB {
			if PatternsOverlap(a, b) {
				out = append(out, a+" <-> "+b)
			}
		}
	}
	return out
}

// FindConflicts runs pairwise overlap detection over the candidate set.
func FindConflicts(chains []ChainScope) []Conflict {
	var conflicts []Conflict
	for i := 0; i < len(chains); i++ {
		for j := i + 1; j < len(chains); j++ {
			if HasOverlap(chains[i].Patterns, chains[j].Patterns) {
				conflicts = append(conflicts, Conflict{
					ChainA:   chains[i].ChainID,
					ChainB:   chains[j].ChainID,
					Patterns: overlappingPatterns(chains[i].Patterns, chains[j].Patterns),
				})
			}
		}
	}
	return conflicts
}

// ValidatePatterns checks every pattern in a scope for glob syntax errors.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid scope pattern %q", p)
		}
	}
	return nil
}

// PathInScope reports whether a concrete path falls inside a scope.
// Used by the governance gate for filesystem-mutating tools.
func PathInScope(path string, patterns []string) bool {
	path = strings.TrimPrefix(path, "./")
	for _, p := range patterns {
		p = strings.TrimSuffix(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		if !hasMeta(p) {
			if isPathPrefix(p, path) {
				return true
			}
			continue
		}
		if ok, err := doublestar.Match(p, path); err == nil && ok {
			return true
		}
	}
	return false
}
