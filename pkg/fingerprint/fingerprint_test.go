package fingerprint

import "testing"

func TestBuildDiffersForDifferentValues(t *testing.T) {
	b1 := NewBuilder()
	b1.AddString("A", "1")
	b1.AddString("B", "2")

	b2 := NewBuilder()
	b2.AddString("A", "1")
	b2.AddString("B", "3")

	if b1.Build().Exact == b2.Build().Exact {
		t.Fatal("expected different fingerprints for different contributing values")
	}
}

func TestAddStringsIsOrderIndependent(t *testing.T) {
	b1 := NewBuilder()
	b1.AddStrings("Names", []string{"b", "a", "c"})

	b2 := NewBuilder()
	b2.AddStrings("Names", []string{"c", "b", "a"})

	if b1.Build().Exact != b2.Build().Exact {
		t.Fatal("expected AddStrings to normalize input order")
	}
}

func TestCompatibleIgnoresFilterDifferences(t *testing.T) {
	unfiltered := [32]byte{9, 9, 9}

	b1 := NewBuilder()
	b1.AddString("Version", "1")
	b1.AddFilterHash("Filter", [32]byte{1}, unfiltered)

	b2 := NewBuilder()
	b2.AddString("Version", "1")
	b2.AddFilterHash("Filter", [32]byte{2}, unfiltered)

	c1 := b1.Build()
	c2 := b2.Build()

	if c1.Exact == c2.Exact {
		t.Fatal("expected exact fingerprints to differ when filter hash differs")
	}
	if c1.Compatible != c2.Compatible {
		t.Fatal("expected compatible fingerprints to match when only the filter hash differs")
	}
}

func TestFilterSubsetContainment(t *testing.T) {
	old := Filter{
		ValueNames:     []string{"build", "test"},
		ValueRoots:     []string{"/repo"},
		ModulePatterns: []string{"Sdk.*", "Tools"},
	}
	narrower := Filter{
		ValueNames:     []string{"build"},
		ValueRoots:     []string{"/repo"},
		ModulePatterns: []string{"Sdk.*"},
	}
	if !narrower.IsSubsetOf(old) {
		t.Fatal("expected narrower filter to be a subset of the broader one")
	}

	wider := Filter{
		ValueNames: []string{"build", "deploy"},
		ValueRoots: []string{"/repo"},
	}
	if wider.IsSubsetOf(old) {
		t.Fatal("expected filter with a new value name not to be a subset")
	}
}
