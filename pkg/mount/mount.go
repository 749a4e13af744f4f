// Package mount implements MountExpander (spec.md §4.A): a two-way
// translation between absolute path identifiers and "%MountName%"-tokenized
// strings, keyed by a hierarchical name dictionary. It continues mutagen's
// pattern of wrapping pkg/pathid's dense identifiers with a small lookup
// layer (mirroring how pkg/identifier wraps raw UUIDs with typed prefixes)
// rather than reinventing path handling.
package mount

import (
	"fmt"
	"sort"
	"strings"

	"github.com/buildcore/pipcache/pkg/pathid"
)

// entry is a single named mount: a primary root plus any alternative roots
// registered under the same name via AddAlternativeRoot (spec.md §3's
// "add-with-existing-name" escape hatch, preserved in SPEC_FULL.md §4.A).
type entry struct {
	name                   string
	roots                  []pathid.ID
	trackSourceFileChanges bool
}

// Expander is a mount name dictionary. The zero value is not usable; use New
// or NewSubExpander.
type Expander struct {
	paths *pathid.Table

	// parent is nil for the global expander and non-nil for a per-module
	// sub-expander, which delegates to parent on miss.
	parent *Expander

	byName map[string]*entry
	// byRoot maps every registered root path identifier (primary or
	// alternative, across every name) back to its owning entry, so ToString
	// can test "is this identifier a mount root" in O(1) while walking the
	// ancestor chain.
	byRoot map[pathid.ID]*entry

	// declarationOrder records mount names in the order they were added, for
	// serialization (spec.md §4.A "Serialization writes mounts in
	// declaration order").
	declarationOrder []string
}

// New creates the global mount expander for a path table.
func New(paths *pathid.Table) *Expander {
	return &Expander{
		paths:  paths,
		byName: make(map[string]*entry),
		byRoot: make(map[pathid.ID]*entry),
	}
}

// NewSubExpander creates a per-module expander that delegates to parent on a
// miss (spec.md §4.A "Supports per-module sub-expanders that delegate to the
// global one on miss").
func NewSubExpander(parent *Expander) *Expander {
	return &Expander{
		paths:  parent.paths,
		parent: parent,
		byName: make(map[string]*entry),
		byRoot: make(map[pathid.ID]*entry),
	}
}

// AddMount registers a new mount name with its root path identifier. It
// fails if root is already a mount root anywhere in this expander's scope,
// or if name is already registered in this scope (spec.md §4.A failure
// modes).
func (e *Expander) AddMount(name string, root pathid.ID, trackSourceFileChanges bool) error {
	if _, exists := e.byName[name]; exists {
		return fmt.Errorf("mount name %q already registered in this scope", name)
	}
	if existing, exists := e.byRoot[root]; exists {
		return fmt.Errorf("path identifier %d is already the root of mount %q", root, existing.name)
	}
	for other, otherEntry := range e.byRoot {
		if e.paths.IsAncestor(root, other) || e.paths.IsAncestor(other, root) {
			return fmt.Errorf("mount root for %q would be an ancestor (or descendant) of existing mount %q", name, otherEntry.name)
		}
	}

	ent := &entry{name: name, roots: []pathid.ID{root}, trackSourceFileChanges: trackSourceFileChanges}
	e.byName[name] = ent
	e.byRoot[root] = ent
	e.declarationOrder = append(e.declarationOrder, name)
	return nil
}

// AddAlternativeRoot registers an additional root for an already-declared
// mount name (e.g. a case-variant or symlinked path to the same logical
// mount). ToString prefers whichever root yields the shortest remaining
// suffix for a given path identifier.
func (e *Expander) AddAlternativeRoot(name string, root pathid.ID) error {
	ent, ok := e.byName[name]
	if !ok {
		return fmt.Errorf("unknown mount name %q", name)
	}
	if existing, exists := e.byRoot[root]; exists {
		return fmt.Errorf("path identifier %d is already the root of mount %q", root, existing.name)
	}
	ent.roots = append(ent.roots, root)
	e.byRoot[root] = ent
	return nil
}

// TrackSourceFileChanges reports whether InputTracker should fold this
// mount's files into the change-journal volume set rather than always
// content-hashing them (SPEC_FULL.md §4.A).
func (e *Expander) TrackSourceFileChanges(name string) (bool, bool) {
	if ent, ok := e.lookupByName(name); ok {
		return ent.trackSourceFileChanges, true
	}
	return false, false
}

func (e *Expander) lookupByName(name string) (*entry, bool) {
	if ent, ok := e.byName[name]; ok {
		return ent, true
	}
	if e.parent != nil {
		return e.parent.lookupByName(name)
	}
	return nil, false
}

func (e *Expander) lookupByRoot(id pathid.ID) (*entry, bool) {
	if ent, ok := e.byRoot[id]; ok {
		return ent, true
	}
	if e.parent != nil {
		return e.parent.lookupByRoot(id)
	}
	return nil, false
}

// ToString renders id as a "%MountName%/relative/suffix" string if id falls
// under a registered mount root, walking up id's ancestor chain until a
// mount root is found. If multiple roots are registered under the winning
// name, the one yielding the shortest relative suffix is preferred. Paths
// outside every mount are expanded to their plain absolute form.
func (e *Expander) ToString(id pathid.ID) (string, error) {
	full, err := e.paths.Expand(id)
	if err != nil {
		return "", err
	}

	type candidate struct {
		name   string
		suffix string
	}
	var best *candidate

	current := id
	var suffixParts []string
	for {
		if ent, ok := e.lookupByRoot(current); ok {
			suffix := strings.Join(reversed(suffixParts), "/")
			cand := candidate{name: ent.name, suffix: suffix}
			if best == nil || len(cand.suffix) < len(best.suffix) {
				best = &cand
			}
		}
		parent, ok := e.paths.Parent(current)
		if !ok {
			break
		}
		component, _ := e.paths.Component(current)
		suffixParts = append(suffixParts, component)
		current = parent
	}

	if best != nil {
		if best.suffix == "" {
			return "%" + best.name + "%", nil
		}
		return "%" + best.name + "%/" + best.suffix, nil
	}
	return full, nil
}

func reversed(parts []string) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[len(parts)-1-i] = p
	}
	return out
}

// FromString parses a possibly-tokenized string back into a path
// identifier. If s begins with "%Name%", the name is resolved to its
// primary root and the remainder is interned relative to it; otherwise s is
// treated as a plain absolute path and interned directly.
func (e *Expander) FromString(s string) (pathid.ID, error) {
	if strings.HasPrefix(s, "%") {
		end := strings.Index(s[1:], "%")
		if end < 0 {
			return pathid.Invalid, fmt.Errorf("malformed mount token: %q", s)
		}
		name := s[1 : end+1]
		rest := strings.TrimPrefix(s[end+2:], "/")

		ent, ok := e.lookupByName(name)
		if !ok {
			return pathid.Invalid, fmt.Errorf("unknown mount name %q", name)
		}
		rootPath, err := e.paths.Expand(ent.roots[0])
		if err != nil {
			return pathid.Invalid, err
		}
		if rest == "" {
			return ent.roots[0], nil
		}
		return e.paths.Intern(rootPath + "/" + rest)
	}
	return e.paths.Intern(s)
}

// Names returns every mount name declared directly in this scope, in
// declaration order (does not include names only visible via the parent
// scope).
func (e *Expander) Names() []string {
	out := make([]string, len(e.declarationOrder))
	copy(out, e.declarationOrder)
	return out
}

// Roots returns the roots registered for name in this scope (not the
// parent's), in registration order.
func (e *Expander) Roots(name string) ([]pathid.ID, bool) {
	ent, ok := e.byName[name]
	if !ok {
		return nil, false
	}
	roots := make([]pathid.ID, len(ent.roots))
	copy(roots, ent.roots)
	return roots, true
}

// sortedNames returns a name-sorted copy of names, leaving names itself in
// its original order.
func sortedNames(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	sort.Strings(out)
	return out
}
