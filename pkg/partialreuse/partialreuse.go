// Package partialreuse implements PartialReuseCoordinator (spec.md §4.G):
// when GraphCacheProtocol determines that a graph was reloaded from disk but
// some spec files changed (MissReasonSpecFileChanges), this package patches
// the reloaded graph in place instead of discarding it outright, so that
// every pip unaffected by the change keeps its identity and cached results.
package partialreuse

import (
	"fmt"

	"github.com/buildcore/pipcache/pkg/graph"
	"github.com/buildcore/pipcache/pkg/logging"
)

// PatchablePipGraph wraps a reloaded graph's DirectedGraph and PipTable
// behind the graph.Builder interface. The front-end re-declares every pip
// and edge exactly as it would for a fresh graph; PatchablePipGraph decides,
// pip by pip, whether a new declaration matches one already present in the
// reloaded graph closely enough to reuse its identifier.
type PatchablePipGraph struct {
	reloaded *graph.PipGraph
	logger   *logging.Logger

	pips  *graph.PipTable
	edges *graph.DirectedGraph

	// consumed tracks which reloaded pip identifiers have already been
	// claimed by a reuse match, so a second pip sharing the same static
	// fingerprint doesn't also claim it.
	consumed map[graph.PipID]bool

	reusedCount int
	addedCount  int
}

// New creates a PatchablePipGraph over reloaded, gated by the historic-size
// heuristic (spec.md §3 / §4.G: partial reuse "is only legal when the
// reloaded in-memory context passes" it). It returns an error if reloaded
// does not pass, in which case the caller must fall back to a full rebuild
// instead.
func New(reloaded *graph.PipGraph, history graph.HistoricTableSizes, logger *logging.Logger) (*PatchablePipGraph, error) {
	if !graph.PermitsContextReuse(history) {
		return nil, fmt.Errorf("partial reuse: reloaded context fails the historic-size heuristic")
	}
	return &PatchablePipGraph{
		reloaded: reloaded,
		logger:   logger,
		pips:     graph.NewPipTable(),
		edges:    graph.NewDirectedGraph(),
		consumed: make(map[graph.PipID]bool),
	}, nil
}

// AddPip implements graph.Builder. If an unconsumed pip in the reloaded
// graph shares pip's static fingerprint, its identifier is reused (any edge
// the front-end later declares against the new pip lands on the same node
// the reloaded graph's dependents already point to); otherwise pip is added
// under a freshly minted identifier, exactly as a non-patched graph would.
func (b *PatchablePipGraph) AddPip(pip *graph.Pip) graph.PipID {
	if match, ok := b.findReuseCandidate(pip.StaticFingerprint); ok {
		b.consumed[match] = true
		if err := b.pips.AddAt(match, pip); err != nil {
			// The reload's own identifier space should never collide with
			// itself; if it does, fall back to a fresh identifier rather
			// than failing the whole build.
			b.logger.Warnf("partial reuse: reuse identifier %d unavailable, adding fresh: %s", match, err)
			id := b.pips.Add(pip)
			b.edges.AddNode(id)
			b.addedCount++
			return id
		}
		b.edges.AddNode(match)
		b.reusedCount++
		return match
	}

	id := b.pips.Add(pip)
	b.edges.AddNode(id)
	b.addedCount++
	return id
}

// findReuseCandidate returns the first unconsumed reloaded pip identifier
// sharing fingerprint, if any.
func (b *PatchablePipGraph) findReuseCandidate(fingerprint [32]byte) (graph.PipID, bool) {
	for _, candidate := range b.reloaded.Pips.ByFingerprint(fingerprint) {
		if !b.consumed[candidate] {
			return candidate, true
		}
	}
	return graph.InvalidPip, false
}

// AddEdge implements graph.Builder, recording a dependency edge in the
// patched graph under construction.
func (b *PatchablePipGraph) AddEdge(from, to graph.PipID) error {
	return b.edges.AddEdge(from, to)
}

// Graph returns the graph under construction so far, implementing
// graph.Builder. Callers driving incremental front-end processing may call
// this before Seal to inspect partial state; Seal is still required to
// finish the build.
func (b *PatchablePipGraph) Graph() *graph.PipGraph {
	return &graph.PipGraph{
		Paths:      b.reloaded.Paths,
		Strings:    b.reloaded.Strings,
		Symbols:    b.reloaded.Symbols,
		Qualifiers: b.reloaded.Qualifiers,
		Pips:       b.pips,
		Edges:      b.edges,
		Mounts:     b.reloaded.Mounts,
	}
}

// Stats reports how many pips were reused from the reloaded graph versus
// added fresh, for diagnostics.
func (b *PatchablePipGraph) Stats() (reused, added int) {
	return b.reusedCount, b.addedCount
}

// Seal finalizes the patched graph once the front-end has finished
// re-declaring every pip and edge, returning the immutable result (spec.md
// §4.G: "after the front-end finishes, the builder is sealed into an
// immutable pip graph").
func (b *PatchablePipGraph) Seal() *graph.PipGraph {
	g := b.Graph()
	b.logger.Infof("partial reuse: sealed graph with %d reused pip(s), %d added pip(s)", b.reusedCount, b.addedCount)
	return g
}

var _ graph.Builder = (*PatchablePipGraph)(nil)
