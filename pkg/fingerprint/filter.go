package fingerprint

import "github.com/bmatcuk/doublestar/v4"

// Filter is an evaluation filter: the set of value names, value roots, and
// module name patterns a build invocation asked to evaluate. Module name
// patterns may contain doublestar globs (e.g. "Sdk.*").
type Filter struct {
	ValueNames     []string
	ValueRoots     []string
	ModulePatterns []string
}

// ContentHash produces the filter's content-hash contribution to a
// CompositeGraphFingerprint: value names, value roots, and module names,
// each sorted independently (spec.md §4.C).
func (f Filter) ContentHash() Fingerprint {
	b := NewBuilder()
	b.AddStrings("ValueNames", f.ValueNames)
	b.AddStrings("ValueRoots", f.ValueRoots)
	b.AddStrings("ModulePatterns", f.ModulePatterns)
	return b.Build().Exact
}

// IsSubsetOf reports whether every concrete module name that newFilter's
// patterns would match is already matched by one of old's patterns -- the
// "filter containment" invariant (spec.md §8 invariant 3) that lets a
// narrower evaluation filter reuse a graph fingerprinted under a broader
// one. Containment for value names/roots is plain set inclusion; module
// name patterns are compared with doublestar glob matching since BuildXL
// module filters support "*"-style wildcards.
func (f Filter) IsSubsetOf(old Filter) bool {
	oldValueNames := toSet(old.ValueNames)
	for _, name := range f.ValueNames {
		if !oldValueNames[name] {
			return false
		}
	}
	oldValueRoots := toSet(old.ValueRoots)
	for _, root := range f.ValueRoots {
		if !oldValueRoots[root] {
			return false
		}
	}
	for _, pattern := range f.ModulePatterns {
		if !matchedByAny(pattern, old.ModulePatterns) {
			return false
		}
	}
	return true
}

// matchedByAny reports whether the literal pattern string itself would be
// matched, as a concrete value, by at least one of the candidate glob
// patterns. This is a conservative containment check: it treats the new
// filter's pattern as a literal, since determining true pattern-subset
// relationships between two globs in general is not decidable with simple
// glob matching.
func matchedByAny(pattern string, candidates []string) bool {
	for _, candidate := range candidates {
		if candidate == pattern {
			return true
		}
		if ok, err := doublestar.Match(candidate, pattern); err == nil && ok {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
