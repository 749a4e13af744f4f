// Package pathid implements the dense path identifier abstraction required
// by spec.md §3: all in-memory graph data structures carry integer path
// identifiers, never strings, and a hierarchical name table interns
// parent/child relationships so identifiers can be issued and expanded in
// O(depth) time. This continues the interning-table idiom mutagen uses for
// its path tables, generalized from file-synchronization entries to
// arbitrary absolute path components.
package pathid

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ID is a dense path identifier. The zero value, Invalid, never identifies a
// real path.
type ID uint32

// Invalid is the identifier returned when no path identifier applies.
const Invalid ID = 0

// node is a single entry in the hierarchical name table.
type node struct {
	parent ID
	name   string
	// children maps a child path component to its identifier.
	children map[string]ID
}

// Table is a hierarchical, append-only (within a generation) dense name
// table mapping absolute path components to identifiers and back. A Table
// from one invocation must never be mixed with identifiers minted by
// another; use Remapper to translate across tables deliberately.
type Table struct {
	nodes []node
	// roots maps the first path component (platform-specific, e.g. "C:" or
	// "" for POSIX absolute paths) to its identifier.
	roots map[string]ID
	// generation increments on every Invalidate. Intern refuses new
	// allocations once it is non-zero, and callers can compare Generation
	// values to detect stale IDs (spec.md §9 "context invalidation").
	generation uint64
}

// NewTable creates an empty path table. Identifier 0 (Invalid) is reserved,
// so the first real node is assigned ID 1.
func NewTable() *Table {
	return &Table{
		nodes: make([]node, 1), // index 0 is the reserved Invalid sentinel.
		roots: make(map[string]ID),
	}
}

// Generation returns the table's current generation counter.
func (t *Table) Generation() uint64 {
	return t.generation
}

// bumpGeneration increments the generation counter. Called whenever the
// table is about to be discarded in favor of a replacement (see
// pkg/enginestate, which owns the generation-based invalidation contract).
func (t *Table) bumpGeneration() {
	t.generation++
}

// Invalidate bumps the table's generation counter, marking every identifier
// minted against it as belonging to a stale generation. This is the
// exported entry point pkg/enginestate calls when it disposes of a retained
// in-memory context (spec.md §9 "context invalidation": "the old in-memory
// context is marked invalid on transfer; new allocations against it must
// fail... implement with a generation counter on the table").
func (t *Table) Invalidate() {
	t.bumpGeneration()
}

// Intern returns the identifier for the specified absolute path, creating
// table entries for any path components that don't yet exist. Paths are
// cleaned (via filepath.Clean) before interning so that "a/b" and "a/./b"
// intern to the same identifier.
func (t *Table) Intern(path string) (ID, error) {
	if path == "" {
		return Invalid, errors.New("empty path")
	}
	if t.generation != 0 {
		return Invalid, errors.New("path table has been invalidated")
	}
	if !filepath.IsAbs(path) {
		return Invalid, fmt.Errorf("path is not absolute: %q", path)
	}
	path = filepath.Clean(path)

	components, rootComponent := splitComponents(path)

	rootID, ok := t.roots[rootComponent]
	if !ok {
		rootID = t.allocate(Invalid, rootComponent)
		t.roots[rootComponent] = rootID
	}

	current := rootID
	for _, component := range components {
		n := &t.nodes[current]
		if n.children == nil {
			n.children = make(map[string]ID)
		}
		child, ok := n.children[component]
		if !ok {
			child = t.allocate(current, component)
			t.nodes[current].children[component] = child
		}
		current = child
	}
	return current, nil
}

// allocate appends a new node and returns its identifier.
func (t *Table) allocate(parent ID, name string) ID {
	t.nodes = append(t.nodes, node{parent: parent, name: name})
	return ID(len(t.nodes) - 1)
}

// Lookup returns the identifier for path if it has already been interned,
// without creating new entries.
func (t *Table) Lookup(path string) (ID, bool) {
	if !filepath.IsAbs(path) {
		return Invalid, false
	}
	path = filepath.Clean(path)
	components, rootComponent := splitComponents(path)

	rootID, ok := t.roots[rootComponent]
	if !ok {
		return Invalid, false
	}
	current := rootID
	for _, component := range components {
		n := &t.nodes[current]
		if n.children == nil {
			return Invalid, false
		}
		child, ok := n.children[component]
		if !ok {
			return Invalid, false
		}
		current = child
	}
	return current, true
}

// Expand reconstructs the absolute path string for id.
func (t *Table) Expand(id ID) (string, error) {
	if id == Invalid || int(id) >= len(t.nodes) {
		return "", fmt.Errorf("invalid path identifier: %d", id)
	}
	var parts []string
	for current := id; current != Invalid; current = t.nodes[current].parent {
		parts = append(parts, t.nodes[current].name)
	}
	// parts is in leaf-to-root order; reverse it.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	if len(parts) == 0 {
		return "", errors.New("empty path components")
	}
	root := parts[0]
	rest := parts[1:]
	if root == "" {
		return string(filepath.Separator) + strings.Join(rest, string(filepath.Separator)), nil
	}
	return root + string(filepath.Separator) + strings.Join(rest, string(filepath.Separator)), nil
}

// Parent returns the identifier of id's immediate parent. It returns
// (Invalid, false) if id is a root (has no parent) or is itself invalid.
func (t *Table) Parent(id ID) (ID, bool) {
	if id == Invalid || int(id) >= len(t.nodes) {
		return Invalid, false
	}
	parent := t.nodes[id].parent
	if parent == Invalid {
		return Invalid, false
	}
	return parent, true
}

// Component returns the single path component name stored at id (e.g. "b"
// for the identifier representing "/a/b"), without reconstructing the full
// path.
func (t *Table) Component(id ID) (string, bool) {
	if id == Invalid || int(id) >= len(t.nodes) {
		return "", false
	}
	return t.nodes[id].name, true
}

// IsAncestor reports whether ancestor is a path-wise ancestor of (or equal
// to) descendant. Used by MountExpander to enforce the "no two mount roots
// may be ancestors of each other within the same scope" invariant.
func (t *Table) IsAncestor(ancestor, descendant ID) bool {
	for current := descendant; current != Invalid; current = t.nodes[current].parent {
		if current == ancestor {
			return true
		}
	}
	return false
}

// splitComponents splits a cleaned absolute path into its root component
// (drive letter on Windows, empty string on POSIX) and the remaining path
// components.
func splitComponents(cleaned string) ([]string, string) {
	volume := filepath.VolumeName(cleaned)
	rest := strings.TrimPrefix(cleaned, volume)
	rest = strings.TrimPrefix(rest, string(filepath.Separator))
	var components []string
	if rest != "" {
		components = strings.Split(rest, string(filepath.Separator))
	}
	return components, volume
}

// EntryCount returns the number of interned entries, including the root
// sentinel, for use in historic-size bookkeeping (spec.md §3 Historic table
// sizes).
func (t *Table) EntryCount() int {
	return len(t.nodes)
}

// Entry is a single (parent, name) pair as stored for identifier ID(index)
// in a table snapshot; Entries()[0] is always the reserved Invalid sentinel.
type Entry struct {
	Parent ID
	Name   string
}

// Entries dumps every interned node in identifier order, for persistence by
// pkg/graphbundle. The returned slice is indexed by ID, so
// Entries()[id].Name/.Parent describes id directly.
func (t *Table) Entries() []Entry {
	entries := make([]Entry, len(t.nodes))
	for id, n := range t.nodes {
		entries[id] = Entry{Parent: n.parent, Name: n.name}
	}
	return entries
}

// FromEntries rebuilds a Table from a snapshot produced by Entries. It
// reconstructs the roots index and every node's children map by replaying
// the parent/name pairs in order, which is safe because Entries always
// lists a node after its parent.
func FromEntries(entries []Entry) (*Table, error) {
	if len(entries) == 0 || entries[0] != (Entry{}) {
		return nil, errors.New("invalid entry snapshot: missing reserved root sentinel")
	}
	t := &Table{
		nodes: make([]node, 1, len(entries)),
		roots: make(map[string]ID),
	}
	for id := 1; id < len(entries); id++ {
		e := entries[id]
		t.nodes = append(t.nodes, node{parent: e.Parent, name: e.Name})
		if e.Parent == Invalid {
			t.roots[e.Name] = ID(id)
			continue
		}
		parentNode := &t.nodes[e.Parent]
		if parentNode.children == nil {
			parentNode.children = make(map[string]ID)
		}
		parentNode.children[e.Name] = ID(id)
	}
	return t, nil
}
