package graphbundle

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// WritePreviousInputsAtomic writes the PreviousInputs file (the serialized
// InputTracker record checked on the next invocation) via a
// write-to-intermediate-name-then-rename sequence, so a crash mid-write
// never leaves a corrupt previousInputs file in place (spec.md §3:
// "previousInputs... MUST be committed atomically; a partially written file
// must never be observed by a later invocation"). body is whatever the
// caller's record type gob-encodes to -- this package stays agnostic to
// InputTracker's Record shape to avoid an import cycle (pkg/inputtracker
// does not depend on pkg/graphbundle).
func WritePreviousInputsAtomic(dir string, body interface{}, token [16]byte, compress bool) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("encoding previousInputs: %w", err)
	}

	finalPath := filepath.Join(dir, FileTypePreviousInputs.String())
	intermediatePath := finalPath + ".tmp"

	f, err := os.Create(intermediatePath)
	if err != nil {
		return err
	}

	env := Envelope{Name: FileTypePreviousInputs.String(), Version: previousInputsVersion, AtomicToken: token, Compressed: compress}
	if err := WriteEnvelope(f, env, buf.Bytes()); err != nil {
		f.Close()
		os.Remove(intermediatePath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(intermediatePath)
		return fmt.Errorf("syncing previousInputs: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(intermediatePath)
		return err
	}

	if err := os.Rename(intermediatePath, finalPath); err != nil {
		os.Remove(intermediatePath)
		return fmt.Errorf("committing previousInputs: %w", err)
	}
	return nil
}

// ReadPreviousInputs reads the committed PreviousInputs file, decoding its
// body into out. A missing or corrupt file is reported as a plain error;
// per spec.md §4.D, callers treat that identically to "no previous run."
func ReadPreviousInputs(dir string, out interface{}) (Envelope, error) {
	finalPath := filepath.Join(dir, FileTypePreviousInputs.String())
	f, err := os.Open(finalPath)
	if err != nil {
		return Envelope{}, err
	}
	defer f.Close()

	env, body, err := ReadEnvelope(f, previousInputsVersion)
	if err != nil {
		return Envelope{}, err
	}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(out); err != nil {
		return Envelope{}, fmt.Errorf("decoding previousInputs: %w", err)
	}
	return env, nil
}
