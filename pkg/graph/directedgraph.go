package graph

import "fmt"

// DirectedGraph is the scheduling graph over pips: an edge from A to B means
// A must finish before B starts. It is intentionally minimal -- just
// adjacency and reverse-adjacency lists plus a topological sort -- since the
// core never re-schedules pips, only reasons about which ones are reusable.
type DirectedGraph struct {
	// outgoing[p] lists pips that depend on p (edges point toward
	// dependents, matching the "produces output consumed by" direction).
	outgoing map[PipID][]PipID
	// incoming[p] lists pips that p depends on.
	incoming map[PipID][]PipID
	nodes    map[PipID]bool
}

// NewDirectedGraph creates an empty graph.
func NewDirectedGraph() *DirectedGraph {
	return &DirectedGraph{
		outgoing: make(map[PipID][]PipID),
		incoming: make(map[PipID][]PipID),
		nodes:    make(map[PipID]bool),
	}
}

// AddNode registers a pip identifier as present in the graph, even if it has
// no edges.
func (g *DirectedGraph) AddNode(id PipID) {
	g.nodes[id] = true
}

// AddEdge records that from must run before to.
func (g *DirectedGraph) AddEdge(from, to PipID) error {
	if !g.nodes[from] {
		return fmt.Errorf("unknown source pip %d", from)
	}
	if !g.nodes[to] {
		return fmt.Errorf("unknown destination pip %d", to)
	}
	g.outgoing[from] = append(g.outgoing[from], to)
	g.incoming[to] = append(g.incoming[to], from)
	return nil
}

// Dependents returns the pips that depend on id.
func (g *DirectedGraph) Dependents(id PipID) []PipID {
	return g.outgoing[id]
}

// Dependencies returns the pips id depends on.
func (g *DirectedGraph) Dependencies(id PipID) []PipID {
	return g.incoming[id]
}

// NodeCount returns the number of registered pip nodes.
func (g *DirectedGraph) NodeCount() int {
	return len(g.nodes)
}

// Edge is a single dependency edge, for snapshotting by pkg/graphbundle.
type Edge struct {
	From, To PipID
}

// Nodes returns every registered pip identifier, in no particular order.
func (g *DirectedGraph) Nodes() []PipID {
	nodes := make([]PipID, 0, len(g.nodes))
	for id := range g.nodes {
		nodes = append(nodes, id)
	}
	return nodes
}

// Edges returns every edge in the graph, in no particular order.
func (g *DirectedGraph) Edges() []Edge {
	var edges []Edge
	for from, tos := range g.outgoing {
		for _, to := range tos {
			edges = append(edges, Edge{From: from, To: to})
		}
	}
	return edges
}

// FromNodesAndEdges rebuilds a DirectedGraph from a snapshot produced by
// Nodes and Edges.
func FromNodesAndEdges(nodes []PipID, edges []Edge) (*DirectedGraph, error) {
	g := NewDirectedGraph()
	for _, id := range nodes {
		g.AddNode(id)
	}
	for _, e := range edges {
		if err := g.AddEdge(e.From, e.To); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// TopologicalOrder returns a valid topological ordering of every registered
// node, using Kahn's algorithm. It returns an error if the graph contains a
// cycle, which would indicate a defect upstream (graphs reaching this core
// are assumed acyclic by construction).
func (g *DirectedGraph) TopologicalOrder() ([]PipID, error) {
	inDegree := make(map[PipID]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(g.incoming[id])
	}

	var queue []PipID
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	var order []PipID
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)
		for _, dependent := range g.outgoing[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, fmt.Errorf("graph contains a cycle: ordered %d of %d nodes", len(order), len(g.nodes))
	}
	return order, nil
}
