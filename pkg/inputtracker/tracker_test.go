package inputtracker

import (
	"bytes"
	"context"
	"testing"

	"github.com/buildcore/pipcache/pkg/fingerprint"
	"github.com/buildcore/pipcache/pkg/inputtracker/journal"
	"github.com/buildcore/pipcache/pkg/pathid"
)

func TestRegisterFileAccessAndProbe(t *testing.T) {
	paths := pathid.NewTable()
	id, _ := paths.Intern("/a/b.txt")

	tracker := New(paths, journal.None{})
	if err := tracker.RegisterFileAccess(id, func() ([32]byte, error) {
		return [32]byte{1, 2, 3}, nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A later probe that finds the file still existent is a legal
	// transition and must keep the real hash.
	if err := tracker.ProbeFileOrDirectoryExistence(id, true); err != nil {
		t.Fatalf("unexpected error on legal transition: %v", err)
	}
}

func TestIllegalAbsentToPresentTransitionFails(t *testing.T) {
	paths := pathid.NewTable()
	id, _ := paths.Intern("/missing")

	tracker := New(paths, journal.None{})
	if err := tracker.ProbeFileOrDirectoryExistence(id, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tracker.ProbeFileOrDirectoryExistence(id, true); err == nil {
		t.Fatal("expected an error for an illegal absent-to-present transition")
	}
}

func TestConflictingRealHashesFail(t *testing.T) {
	paths := pathid.NewTable()
	id, _ := paths.Intern("/a")

	tracker := New(paths, journal.None{})
	if err := tracker.RegisterFileAccess(id, func() ([32]byte, error) { return [32]byte{1}, nil }); err != nil {
		t.Fatal(err)
	}
	if err := tracker.RegisterFileAccess(id, func() ([32]byte, error) { return [32]byte{2}, nil }); err == nil {
		t.Fatal("expected conflicting hash registrations to fail")
	}
}

func TestSnapshotWriteAndReadRoundTrip(t *testing.T) {
	paths := pathid.NewTable()
	id, _ := paths.Intern("/a/b.txt")

	tracker := New(paths, journal.None{})
	if err := tracker.RegisterFileAccess(id, func() ([32]byte, error) { return [32]byte{7}, nil }); err != nil {
		t.Fatal(err)
	}

	record, err := tracker.Snapshot(
		map[string]string{"FOO": "bar"},
		map[string]string{"SourceRoot": "/a"},
		"token-1",
		[32]byte{1}, [32]byte{2},
		nil, nil, nil,
	)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteToFile(&buf, record); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	readBack, err := ReadFromFile(&buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if readBack.EnvVars["FOO"] != "bar" {
		t.Fatalf("expected env var round trip, got %v", readBack.EnvVars)
	}
	if readBack.InputHashes["/a/b.txt"] != ([32]byte{7}) {
		t.Fatalf("expected input hash round trip")
	}
}

func TestVerifyMatchesOnIdenticalState(t *testing.T) {
	paths := pathid.NewTable()
	id, _ := paths.Intern("/a/b.txt")

	tracker := New(paths, journal.None{})
	if err := tracker.RegisterFileAccess(id, func() ([32]byte, error) { return [32]byte{7}, nil }); err != nil {
		t.Fatal(err)
	}

	composite := fingerprint.Composite{Exact: [32]byte{1}, Compatible: [32]byte{1}}
	record, err := tracker.Snapshot(nil, nil, "token", composite.Exact, composite.Compatible, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	result := Verify(context.Background(), record, VerifyOptions{
		CurrentComposite: composite,
		HashFile: func(path string) ([32]byte, error) {
			return [32]byte{7}, nil
		},
	})
	if !result.Hit {
		t.Fatalf("expected a hit, got miss reason %v", result.Reason)
	}
}

func TestVerifyDetectsChangedFile(t *testing.T) {
	paths := pathid.NewTable()
	id, _ := paths.Intern("/a/b.txt")

	tracker := New(paths, journal.None{})
	if err := tracker.RegisterFileAccess(id, func() ([32]byte, error) { return [32]byte{7}, nil }); err != nil {
		t.Fatal(err)
	}

	composite := fingerprint.Composite{Exact: [32]byte{1}, Compatible: [32]byte{1}}
	record, err := tracker.Snapshot(nil, nil, "token", composite.Exact, composite.Compatible, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	result := Verify(context.Background(), record, VerifyOptions{
		CurrentComposite: composite,
		HashFile: func(path string) ([32]byte, error) {
			return [32]byte{99}, nil
		},
	})
	if result.Hit {
		t.Fatal("expected a miss when file content changed")
	}
	if result.Reason != MissReasonFingerprintChanged {
		t.Fatalf("expected FingerprintChanged, got %v", result.Reason)
	}
}

func TestVerifyForcedMiss(t *testing.T) {
	t.Setenv("ForceInvalidateCachedGraph", "1")
	result := Verify(context.Background(), &Record{}, VerifyOptions{})
	if result.Reason != MissReasonForcedMiss {
		t.Fatalf("expected ForcedMiss, got %v", result.Reason)
	}
}
