// Package sideband implements SidebandExaminer (spec.md §4.H): before a
// build reuses a process pip's shared-opaque output directory, it verifies
// a small sideband file recorded the last time that pip ran. A verification
// failure anywhere downgrades the whole directory to eager deletion (wipe
// and let the build recompute); a clean pass instead only lazily deletes
// whatever sideband files (and their referenced outputs) no longer belong
// to any pip in the current graph. Every failure here is logged and
// swallowed -- sideband examination is advisory cleanup, never a build
// failure (spec.md §7).
package sideband

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/buildcore/pipcache/pkg/contextutil"
	"github.com/buildcore/pipcache/pkg/graph"
	"github.com/buildcore/pipcache/pkg/logging"
	"github.com/buildcore/pipcache/pkg/must"
	"github.com/buildcore/pipcache/pkg/parallelism"
	"github.com/buildcore/pipcache/pkg/pathid"
)

// Reason categorizes why a sideband file failed verification.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonFileNotFound
	ReasonChecksumMismatch
	ReasonMetadataMismatch
)

func (r Reason) String() string {
	switch r {
	case ReasonFileNotFound:
		return "FileNotFound"
	case ReasonChecksumMismatch:
		return "ChecksumMismatch"
	case ReasonMetadataMismatch:
		return "MetadataMismatch"
	default:
		return "None"
	}
}

// Options configures one reconciliation pass.
type Options struct {
	// LazyDeletionEnabled gates whether verification is attempted at all;
	// when false, every shared-opaque output in the graph is eagerly
	// deleted regardless of sideband state.
	LazyDeletionEnabled bool

	// SidebandDir is where sideband files live. An empty value is
	// equivalent to LazyDeletionEnabled being false.
	SidebandDir string

	// Filter, if non-nil, narrows which pips are verified; a pip for which
	// Filter returns false is skipped for verification (though it still
	// counts toward the "owned" set used to compute extraneous files).
	Filter func(*graph.Pip) bool
}

// record is the payload of a single sideband file.
type record struct {
	SemiStableHash    [32]byte
	StaticFingerprint [32]byte
	OutputPaths       []string
}

const sidebandMagic uint32 = 0x70635342 // "pcSB"

// Examiner runs SidebandExaminer's reconciliation pass.
type Examiner struct {
	logger *logging.Logger
}

// New creates an Examiner.
func New(logger *logging.Logger) *Examiner {
	return &Examiner{logger: logger}
}

// Reconcile decides, for every process pip in g with shared-opaque outputs,
// whether its output directory can be trusted as-is or must be wiped.
func (e *Examiner) Reconcile(ctx context.Context, g *graph.PipGraph, opts Options) {
	if !opts.LazyDeletionEnabled || opts.SidebandDir == "" {
		e.eagerDelete(g)
		return
	}

	var candidates []*graph.Pip
	for _, pip := range g.Pips.All() {
		if !pip.HasSharedOpaqueOutputs() {
			continue
		}
		if opts.Filter != nil && !opts.Filter(pip) {
			continue
		}
		candidates = append(candidates, pip)
	}

	if !e.verifyAll(ctx, opts.SidebandDir, candidates) {
		e.eagerDelete(g)
		return
	}

	e.lazyDelete(g, opts.SidebandDir)
}

// verifyAll runs verification for every candidate in parallel, returning
// true only if every one of them passed. A cancelled ctx aborts the sweep
// early and counts as a failure, forcing the safe eager-deletion fallback
// rather than trusting a partially-checked set of sideband files.
func (e *Examiner) verifyAll(ctx context.Context, dir string, candidates []*graph.Pip) bool {
	if len(candidates) == 0 {
		return true
	}

	var failed int32
	partition := &verifyPartition{ctx: ctx, dir: dir, pips: candidates, failed: &failed, logger: e.logger}
	pool := parallelism.NewPool(0)
	err := pool.Do(partition)
	pool.Terminate()
	if err != nil {
		e.logger.Warnf("sideband: verification pool error: %s", err)
		return false
	}
	return atomic.LoadInt32(&failed) == 0
}

type verifyPartition struct {
	ctx    context.Context
	dir    string
	pips   []*graph.Pip
	failed *int32
	logger *logging.Logger
}

func (p *verifyPartition) Run(index, size int) error {
	for i := index; i < len(p.pips); i += size {
		if atomic.LoadInt32(p.failed) != 0 {
			return nil
		}
		if contextutil.IsCancelled(p.ctx) {
			atomic.StoreInt32(p.failed, 1)
			return nil
		}
		pip := p.pips[i]
		if reason, ok := verifyOne(p.dir, pip); !ok {
			atomic.StoreInt32(p.failed, 1)
			p.logger.Warnf("sideband: pip %x failed verification: %s", pip.StaticFingerprint, reason)
		}
	}
	return nil
}

func verifyOne(dir string, pip *graph.Pip) (Reason, bool) {
	f, err := os.Open(sidebandPath(dir, pip))
	if err != nil {
		return ReasonFileNotFound, false
	}
	defer f.Close()

	rec, err := readRecord(f)
	if err != nil {
		return ReasonChecksumMismatch, false
	}

	if rec.StaticFingerprint != pip.StaticFingerprint || rec.SemiStableHash != semiStableHash(pip) {
		return ReasonMetadataMismatch, false
	}
	return ReasonNone, true
}

// lazyDelete removes every sideband file in dir that doesn't belong to a
// shared-opaque-output pip still present in g, along with the output paths
// it recorded.
func (e *Examiner) lazyDelete(g *graph.PipGraph, dir string) {
	owned := make(map[string]bool)
	for _, pip := range g.Pips.All() {
		if pip.HasSharedOpaqueOutputs() {
			owned[sidebandFileName(pip)] = true
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		e.logger.Warnf("sideband: list %s: %s", dir, err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || owned[entry.Name()] {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		e.deleteExtraneous(path)
	}
}

func (e *Examiner) deleteExtraneous(path string) {
	f, err := os.Open(path)
	if err == nil {
		if rec, err := readRecord(f); err == nil {
			for _, output := range rec.OutputPaths {
				if err := removeOutputTree(output); err != nil {
					e.logger.Warnf("sideband: remove extraneous output %s: %s", output, err)
				}
			}
		}
		f.Close()
	}
	must.OSRemove(path, e.logger)
}

// eagerDelete wipes every shared-opaque output directory in g outright,
// used whenever sideband tracking can't be trusted.
func (e *Examiner) eagerDelete(g *graph.PipGraph) {
	for _, pip := range g.Pips.All() {
		if !pip.HasSharedOpaqueOutputs() {
			continue
		}
		for _, id := range pip.SharedOpaqueOutputs {
			path, err := g.Paths.Expand(id)
			if err != nil {
				e.logger.Warnf("sideband: expand shared opaque output: %s", err)
				continue
			}
			if err := removeOutputTree(path); err != nil {
				e.logger.Warnf("sideband: eager delete %s: %s", path, err)
			}
		}
	}
}

// WriteRecord persists a pip's sideband file after it finishes running,
// recording its identity and the output paths owned by this execution so a
// later extraneous-file sweep can remove them together.
func WriteRecord(dir string, pip *graph.Pip, paths *pathid.Table) error {
	outputs := make([]string, 0, len(pip.SharedOpaqueOutputs))
	for _, id := range pip.SharedOpaqueOutputs {
		if p, err := paths.Expand(id); err == nil {
			outputs = append(outputs, p)
		}
	}

	rec := record{
		SemiStableHash:    semiStableHash(pip),
		StaticFingerprint: pip.StaticFingerprint,
		OutputPaths:       outputs,
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(sidebandPath(dir, pip))
	if err != nil {
		return err
	}
	defer f.Close()
	return writeRecord(f, rec)
}

// semiStableHash hashes the parts of a pip's identity that stay constant
// even when unrelated parts of the graph change (its declaring module,
// value, qualifier, and kind) but deliberately excludes Dependencies, which
// StaticFingerprint folds in and which partial reuse may renumber across a
// reload.
func semiStableHash(pip *graph.Pip) [32]byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, pip.Kind)
	binary.Write(&buf, binary.BigEndian, pip.ModuleSymbol)
	binary.Write(&buf, binary.BigEndian, pip.ValueSymbol)
	binary.Write(&buf, binary.BigEndian, pip.QualifierIndex)
	return sha256.Sum256(buf.Bytes())
}

func sidebandFileName(pip *graph.Pip) string {
	return fmt.Sprintf("%x.sideband", pip.StaticFingerprint)
}

func sidebandPath(dir string, pip *graph.Pip) string {
	return filepath.Join(dir, sidebandFileName(pip))
}

func writeRecord(w *os.File, rec record) error {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(rec); err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, sidebandMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(body.Len())); err != nil {
		return err
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return err
	}
	checksum := crc32.ChecksumIEEE(body.Bytes())
	return binary.Write(w, binary.BigEndian, checksum)
}

func readRecord(r *os.File) (record, error) {
	var rec record

	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return rec, err
	}
	if magic != sidebandMagic {
		return rec, fmt.Errorf("bad sideband magic: %x", magic)
	}

	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return rec, err
	}
	body := make([]byte, length)
	if _, err := r.Read(body); err != nil {
		return rec, err
	}

	var wantChecksum uint32
	if err := binary.Read(r, binary.BigEndian, &wantChecksum); err != nil {
		return rec, err
	}
	if crc32.ChecksumIEEE(body) != wantChecksum {
		return rec, fmt.Errorf("sideband checksum mismatch")
	}

	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&rec); err != nil {
		return rec, err
	}
	return rec, nil
}
