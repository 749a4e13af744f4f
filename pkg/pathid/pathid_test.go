package pathid

import "testing"

func TestInternLookupExpandRoundTrip(t *testing.T) {
	table := NewTable()

	id, err := table.Intern("/a/b/c")
	if err != nil {
		t.Fatalf("intern failed: %v", err)
	}

	if got, ok := table.Lookup("/a/b/c"); !ok || got != id {
		t.Fatalf("lookup mismatch: got (%d,%v), want (%d,true)", got, ok, id)
	}

	expanded, err := table.Expand(id)
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	if expanded != "/a/b/c" {
		t.Fatalf("expand mismatch: got %q, want %q", expanded, "/a/b/c")
	}
}

func TestInternIsIdempotent(t *testing.T) {
	table := NewTable()
	id1, err := table.Intern("/a/b")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := table.Intern("/a/./b")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("expected equal identifiers for equivalent paths, got %d and %d", id1, id2)
	}
}

func TestIsAncestor(t *testing.T) {
	table := NewTable()
	parent, _ := table.Intern("/a")
	child, _ := table.Intern("/a/b/c")
	other, _ := table.Intern("/x/y")

	if !table.IsAncestor(parent, child) {
		t.Fatal("expected parent to be ancestor of child")
	}
	if table.IsAncestor(parent, other) {
		t.Fatal("expected parent not to be ancestor of unrelated path")
	}
	if !table.IsAncestor(child, child) {
		t.Fatal("expected a path to be its own ancestor")
	}
}

func TestRemapperTranslatesBetweenTables(t *testing.T) {
	old := NewTable()
	oldID, _ := old.Intern("/a/b")

	fresh := NewTable()
	// Pre-populate the new table with an unrelated entry to ensure
	// translation doesn't collide with existing identifiers.
	fresh.Intern("/z")

	remapper := NewRemapper(old, fresh)
	newID, err := remapper.Translate(oldID)
	if err != nil {
		t.Fatalf("translate failed: %v", err)
	}

	expanded, err := fresh.Expand(newID)
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	if expanded != "/a/b" {
		t.Fatalf("expand mismatch: got %q, want %q", expanded, "/a/b")
	}

	// Translating again should hit the memoization cache and return the
	// same identifier.
	newID2, err := remapper.Translate(oldID)
	if err != nil {
		t.Fatal(err)
	}
	if newID != newID2 {
		t.Fatalf("expected memoized identifier, got %d and %d", newID, newID2)
	}
}
