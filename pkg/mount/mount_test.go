package mount

import (
	"testing"

	"github.com/buildcore/pipcache/pkg/pathid"
)

func TestToStringFromStringRoundTrip(t *testing.T) {
	paths := pathid.NewTable()
	root, _ := paths.Intern("/src/repo")
	child, _ := paths.Intern("/src/repo/a/b.txt")

	expander := New(paths)
	if err := expander.AddMount("SourceRoot", root, true); err != nil {
		t.Fatalf("AddMount failed: %v", err)
	}

	str, err := expander.ToString(child)
	if err != nil {
		t.Fatalf("ToString failed: %v", err)
	}
	if str != "%SourceRoot%/a/b.txt" {
		t.Fatalf("unexpected tokenized string: %q", str)
	}

	backID, err := expander.FromString(str)
	if err != nil {
		t.Fatalf("FromString failed: %v", err)
	}
	if backID != child {
		t.Fatalf("expected round trip to recover original id, got %d want %d", backID, child)
	}
}

func TestAddMountRejectsAncestorConflict(t *testing.T) {
	paths := pathid.NewTable()
	parent, _ := paths.Intern("/a")
	child, _ := paths.Intern("/a/b")

	expander := New(paths)
	if err := expander.AddMount("Parent", parent, false); err != nil {
		t.Fatalf("AddMount failed: %v", err)
	}
	if err := expander.AddMount("Child", child, false); err == nil {
		t.Fatal("expected ancestor conflict error")
	}
}

func TestAddMountRejectsDuplicateName(t *testing.T) {
	paths := pathid.NewTable()
	root1, _ := paths.Intern("/a")
	root2, _ := paths.Intern("/b")

	expander := New(paths)
	if err := expander.AddMount("Root", root1, false); err != nil {
		t.Fatalf("AddMount failed: %v", err)
	}
	if err := expander.AddMount("Root", root2, false); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestSubExpanderDelegatesToParentOnMiss(t *testing.T) {
	paths := pathid.NewTable()
	root, _ := paths.Intern("/global")
	child, _ := paths.Intern("/global/x")

	global := New(paths)
	if err := global.AddMount("Global", root, false); err != nil {
		t.Fatalf("AddMount failed: %v", err)
	}

	module := NewSubExpander(global)
	str, err := module.ToString(child)
	if err != nil {
		t.Fatalf("ToString failed: %v", err)
	}
	if str != "%Global%/x" {
		t.Fatalf("expected sub-expander to delegate to parent, got %q", str)
	}

	if _, ok := module.TrackSourceFileChanges("Global"); !ok {
		t.Fatal("expected TrackSourceFileChanges to delegate to parent")
	}
}

func TestAlternativeRootPrefersShortestSuffix(t *testing.T) {
	paths := pathid.NewTable()
	deepRoot, _ := paths.Intern("/a/b/c")
	shallowRoot, _ := paths.Intern("/a")
	target, _ := paths.Intern("/a/b/c/d")

	expander := New(paths)
	if err := expander.AddMount("Mixed", shallowRoot, false); err != nil {
		t.Fatalf("AddMount failed: %v", err)
	}
	if err := expander.AddAlternativeRoot("Mixed", deepRoot); err != nil {
		t.Fatalf("AddAlternativeRoot failed: %v", err)
	}

	str, err := expander.ToString(target)
	if err != nil {
		t.Fatalf("ToString failed: %v", err)
	}
	if str != "%Mixed%/d" {
		t.Fatalf("expected shortest-suffix root to win, got %q", str)
	}
}

func TestToStringOutsideAnyMountReturnsPlainPath(t *testing.T) {
	paths := pathid.NewTable()
	root, _ := paths.Intern("/mnt")
	other, _ := paths.Intern("/elsewhere/file")

	expander := New(paths)
	if err := expander.AddMount("Mnt", root, false); err != nil {
		t.Fatalf("AddMount failed: %v", err)
	}

	str, err := expander.ToString(other)
	if err != nil {
		t.Fatalf("ToString failed: %v", err)
	}
	if str != "/elsewhere/file" {
		t.Fatalf("expected plain path, got %q", str)
	}
}
