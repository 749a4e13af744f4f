package graph

import "github.com/buildcore/pipcache/pkg/pathid"

// PipGraph is the sealed combination of every table and structure a single
// build invocation's graph is made of: the path table, the pip table, the
// scheduling edges between pips, and the interned string/symbol/qualifier
// tables referenced by pip fields. It is the in-memory counterpart of
// SerializedGraphBundle (spec.md §4.D): pkg/graphbundle knows how to write
// one of these to disk and read one back; pkg/graph only knows its shape.
type PipGraph struct {
	Paths      *pathid.Table
	Strings    *StringTable
	Symbols    *SymbolTable
	Qualifiers *QualifierTable
	Pips       *PipTable
	Edges      *DirectedGraph

	// Mounts is the serialized form of the mount map active when this graph
	// was built (spec.md §4.A); stored opaquely here since pkg/mount owns
	// its shape, and pkg/graph must not import it (mount depends on graph's
	// pathid usage, not the other way around).
	Mounts MountMapSnapshot
}

// MountMapSnapshot is the subset of mount-expander state that travels with a
// graph bundle: one root path identifier per declared mount name, in
// declaration order, plus the name each corresponds to. cmd/pipcache builds
// this from an Expander's Names and Roots; nothing restores an Expander from it.
type MountMapSnapshot struct {
	Names []string
	Roots []pathid.ID
}

// NewPipGraph assembles an empty PipGraph, ready for a Builder to populate.
func NewPipGraph() *PipGraph {
	return &PipGraph{
		Paths:      pathid.NewTable(),
		Strings:    NewStringTable(),
		Symbols:    NewSymbolTable(),
		Qualifiers: NewQualifierTable(),
		Pips:       NewPipTable(),
		Edges:      NewDirectedGraph(),
	}
}

// Builder is the narrow interface PartialReuseCoordinator's PatchablePipGraph
// implements in order to mutate a graph in place while reusing unaffected
// pips from a previous run (spec.md §4.G). A plain *PipGraph also satisfies
// it trivially, which is what fresh (non-patched) graph construction uses.
type Builder interface {
	AddPip(pip *Pip) PipID
	AddEdge(from, to PipID) error
	Graph() *PipGraph
}

// AddPip adds pip to the graph's pip table and registers it as a node in the
// scheduling graph.
func (g *PipGraph) AddPip(pip *Pip) PipID {
	id := g.Pips.Add(pip)
	g.Edges.AddNode(id)
	return id
}

// AddEdge records a scheduling dependency between two already-added pips.
func (g *PipGraph) AddEdge(from, to PipID) error {
	return g.Edges.AddEdge(from, to)
}

// Graph returns the graph itself, satisfying Builder.
func (g *PipGraph) Graph() *PipGraph {
	return g
}
