package graphbundle

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/buildcore/pipcache/pkg/graph"
	"github.com/buildcore/pipcache/pkg/pathid"
)

func TestEnvelopeRoundTripUncompressed(t *testing.T) {
	var buf bytes.Buffer
	env := Envelope{Name: "test", Version: 3, AtomicToken: [16]byte{1, 2, 3}}
	body := []byte("hello world")

	if err := WriteEnvelope(&buf, env, body); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	gotEnv, gotBody, err := ReadEnvelope(&buf, 3)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if gotEnv.Name != "test" || gotEnv.AtomicToken != env.AtomicToken {
		t.Fatalf("envelope mismatch: %+v", gotEnv)
	}
	if string(gotBody) != "hello world" {
		t.Fatalf("body mismatch: %q", gotBody)
	}
}

func TestEnvelopeRoundTripCompressed(t *testing.T) {
	var buf bytes.Buffer
	env := Envelope{Name: "test", Version: 1, Compressed: true}
	body := bytes.Repeat([]byte("abc"), 100)

	if err := WriteEnvelope(&buf, env, body); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	gotEnv, gotBody, err := ReadEnvelope(&buf, 1)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !gotEnv.Compressed {
		t.Fatal("expected compressed flag to round trip")
	}
	if !bytes.Equal(gotBody, body) {
		t.Fatal("body mismatch after decompression")
	}
}

func TestEnvelopeDetectsChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, Envelope{Name: "test", Version: 1}, []byte("data")); err != nil {
		t.Fatal(err)
	}
	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF

	if _, _, err := ReadEnvelope(bytes.NewReader(corrupted), 1); err == nil {
		t.Fatal("expected a checksum mismatch error")
	}
}

func TestWriteAndReadPipGraphRoundTrip(t *testing.T) {
	dir := t.TempDir()

	g := graph.NewPipGraph()
	rootID, err := g.Paths.Intern("/a")
	if err != nil {
		t.Fatal(err)
	}
	g.AddPip(&graph.Pip{Kind: graph.PipKindProcess})
	g.Mounts = graph.MountMapSnapshot{Names: []string{"Root"}, Roots: []pathid.ID{rootID}}

	token, err := NewAtomicSaveToken()
	if err != nil {
		t.Fatal(err)
	}

	if err := WritePipGraph(dir, g, graph.HistoricTableSizes{}, token, false); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	readBack, readToken, err := ReadPipGraph(dir)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if readToken != token {
		t.Fatal("expected atomic token round trip")
	}
	if readBack.Pips.Len() != 1 {
		t.Fatalf("expected 1 pip, got %d", readBack.Pips.Len())
	}
	if len(readBack.Mounts.Names) != 1 || readBack.Mounts.Names[0] != "Root" {
		t.Fatalf("expected mount snapshot round trip, got %+v", readBack.Mounts)
	}
}

func TestWritePreviousInputsAtomicLeavesNoIntermediateFile(t *testing.T) {
	dir := t.TempDir()
	body := map[string]string{"FOO": "bar"}

	if err := WritePreviousInputsAtomic(dir, body, [16]byte{9}, false); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "previousInputs.tmp")); !os.IsNotExist(err) {
		t.Fatal("expected intermediate file to be removed after commit")
	}

	var readBack map[string]string
	if _, err := ReadPreviousInputs(dir, &readBack); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if readBack["FOO"] != "bar" {
		t.Fatalf("expected round trip, got %v", readBack)
	}
}

func TestDescriptorContentFingerprintStableAcrossMapOrder(t *testing.T) {
	g := graph.NewPipGraph()
	g.AddPip(&graph.Pip{Kind: graph.PipKindCopyFile})

	d1, err := BuildDescriptor(g)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := BuildDescriptor(g)
	if err != nil {
		t.Fatal(err)
	}
	if d1.ContentFingerprint() != d2.ContentFingerprint() {
		t.Fatal("expected identical graphs to produce identical content fingerprints")
	}
	if !d1.Equal(d2) {
		t.Fatal("expected descriptors to be equal")
	}
}
