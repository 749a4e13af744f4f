package graph

import "testing"

func TestInternTableDeduplicates(t *testing.T) {
	table := NewStringTable()
	a := table.Intern("hello")
	b := table.Intern("hello")
	c := table.Intern("world")
	if a != b {
		t.Fatalf("expected equal indices for equal strings, got %d and %d", a, b)
	}
	if a == c {
		t.Fatalf("expected distinct indices for distinct strings")
	}
	value, ok := table.Value(a)
	if !ok || value != "hello" {
		t.Fatalf("value round-trip failed: got (%q,%v)", value, ok)
	}
}

func TestPipTableFingerprintIndex(t *testing.T) {
	table := NewPipTable()
	fp := [32]byte{1, 2, 3}
	id1 := table.Add(&Pip{Kind: PipKindProcess, StaticFingerprint: fp})
	id2 := table.Add(&Pip{Kind: PipKindCopyFile, StaticFingerprint: fp})

	matches := table.ByFingerprint(fp)
	if len(matches) != 2 || matches[0] != id1 || matches[1] != id2 {
		t.Fatalf("expected both pips indexed under shared fingerprint, got %v", matches)
	}
	if table.Len() != 2 {
		t.Fatalf("expected 2 pips, got %d", table.Len())
	}
}

func TestDirectedGraphTopologicalOrder(t *testing.T) {
	g := NewDirectedGraph()
	g.AddNode(1)
	g.AddNode(2)
	g.AddNode(3)
	if err := g.AddEdge(1, 2); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge(2, 3); err != nil {
		t.Fatal(err)
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	position := make(map[PipID]int, len(order))
	for i, id := range order {
		position[id] = i
	}
	if position[1] >= position[2] || position[2] >= position[3] {
		t.Fatalf("expected order 1 < 2 < 3, got %v", order)
	}
}

func TestDirectedGraphDetectsCycle(t *testing.T) {
	g := NewDirectedGraph()
	g.AddNode(1)
	g.AddNode(2)
	if err := g.AddEdge(1, 2); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge(2, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := g.TopologicalOrder(); err == nil {
		t.Fatal("expected cycle detection error")
	}
}

func TestPipGraphBuilder(t *testing.T) {
	g := NewPipGraph()
	var builder Builder = g

	id := builder.AddPip(&Pip{Kind: PipKindProcess})
	if id == InvalidPip {
		t.Fatal("expected a non-zero pip identifier")
	}
	if builder.Graph() != g {
		t.Fatal("expected Graph() to return the underlying PipGraph")
	}
}

func TestEstimateNextSizeDoublingRule(t *testing.T) {
	history := []TableSizeSample{{EntryCount: 10}, {EntryCount: 40}, {EntryCount: 25}}
	if got := EstimateNextSize(history); got != 80 {
		t.Fatalf("expected 80, got %d", got)
	}
	if got := EstimateNextSize(nil); got != 0 {
		t.Fatalf("expected 0 for empty history, got %d", got)
	}
}
