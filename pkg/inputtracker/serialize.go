package inputtracker

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// recordMagic identifies an input-tracker record file.
const recordMagic = "PCIT"

// recordVersion is the on-disk format version. InputTracker records do not
// need the compression-flag bit-packing SerializedGraphBundle uses (they
// are small compared to the path/pip tables), so the version field is a
// plain version number.
const recordVersion = 1

// Record is the on-disk form of a Tracker snapshot: every recorded input,
// plus the environment variables, mount bindings, and composite fingerprint
// that were in effect when it was captured. Paths are stored as absolute
// path strings rather than pathid.ID values, since a Record outlives the
// pathid.Table that produced it and must be re-interned into whatever table
// is live when it is read back (spec.md §3's PathRemapper boundary: the
// table is never serialized as part of a Record, only as part of
// SerializedGraphBundle's own pathTable file).
type Record struct {
	AtomicSaveToken        string
	JournalCheckpointToken string

	EnvVars map[string]string
	Mounts  map[string]string

	InputHashes           map[string]RecordedHash
	DirectoryFingerprints map[string][32]byte

	AllDirectoriesAccountedFor bool

	// CompositeExact and CompositeCompatible are the fingerprint.Composite
	// values in effect when this record was captured, stored as raw bytes
	// so this package does not need to import pkg/fingerprint for gob
	// registration purposes.
	CompositeExact      [32]byte
	CompositeCompatible [32]byte

	// Filter* capture the evaluation filter active at capture time, so the
	// verifier can apply the filter-containment subset check (spec.md §4.B
	// step 1) rather than only comparing hashes.
	FilterValueNames     []string
	FilterValueRoots     []string
	FilterModulePatterns []string
}

// Snapshot converts the tracker's in-memory state into a serializable
// Record, expanding every path identifier to its absolute string form.
func (t *Tracker) Snapshot(envVars, mounts map[string]string, journalCheckpointToken string, compositeExact, compositeCompatible [32]byte, filterValueNames, filterValueRoots, filterModulePatterns []string) (*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record := &Record{
		AtomicSaveToken:            t.atomicSaveToken,
		JournalCheckpointToken:     journalCheckpointToken,
		EnvVars:                    envVars,
		Mounts:                     mounts,
		InputHashes:                make(map[string]RecordedHash, len(t.inputHashes)),
		DirectoryFingerprints:      make(map[string][32]byte, len(t.directoryFingerprints)),
		AllDirectoriesAccountedFor: t.allDirectoriesOK,
		CompositeExact:             compositeExact,
		CompositeCompatible:        compositeCompatible,
		FilterValueNames:           filterValueNames,
		FilterValueRoots:           filterValueRoots,
		FilterModulePatterns:       filterModulePatterns,
	}

	for id, hash := range t.inputHashes {
		path, err := t.paths.Expand(id)
		if err != nil {
			return nil, fmt.Errorf("unable to expand recorded path identifier %v: %w", id, err)
		}
		record.InputHashes[path] = hash
	}
	for id, fp := range t.directoryFingerprints {
		path, err := t.paths.Expand(id)
		if err != nil {
			return nil, fmt.Errorf("unable to expand recorded directory identifier %v: %w", id, err)
		}
		record.DirectoryFingerprints[path] = fp
	}
	return record, nil
}

// WriteToFile serializes record to w under a checksummed envelope:
// magic, version, a uint32 payload length, the gob-encoded payload, then a
// trailing SHA-256 checksum of the payload. gob is used here (rather than
// the repo's protobuf envelope helpers) because a Record has no generated
// Protocol Buffers message and this environment has no protoc toolchain to
// produce one (see DESIGN.md); gob is the standard library's own
// self-describing binary codec and needs no schema compiler.
func WriteToFile(w io.Writer, record *Record) error {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(record); err != nil {
		return fmt.Errorf("unable to encode input tracker record: %w", err)
	}

	if _, err := io.WriteString(w, recordMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(recordVersion)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(payload.Len())); err != nil {
		return err
	}
	if _, err := w.Write(payload.Bytes()); err != nil {
		return err
	}
	checksum := sha256.Sum256(payload.Bytes())
	if _, err := w.Write(checksum[:]); err != nil {
		return err
	}
	return nil
}

// ReadFromFile deserializes a Record previously written by WriteToFile,
// verifying its checksum. A checksum or magic mismatch returns an error;
// per spec.md §4.D this is treated by callers as "no previous run," not a
// hard failure.
func ReadFromFile(r io.Reader) (*Record, error) {
	magic := make([]byte, len(recordMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("unable to read magic: %w", err)
	}
	if string(magic) != recordMagic {
		return nil, fmt.Errorf("not an input tracker record (bad magic)")
	}

	var version uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("unable to read version: %w", err)
	}
	if version != recordVersion {
		return nil, fmt.Errorf("unsupported input tracker record version: %d", version)
	}

	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("unable to read payload length: %w", err)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("unable to read payload: %w", err)
	}

	var checksum [32]byte
	if _, err := io.ReadFull(r, checksum[:]); err != nil {
		return nil, fmt.Errorf("unable to read checksum: %w", err)
	}
	if sha256.Sum256(payload) != checksum {
		return nil, fmt.Errorf("input tracker record checksum mismatch")
	}

	var record Record
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&record); err != nil {
		return nil, fmt.Errorf("unable to decode input tracker record: %w", err)
	}
	return &record, nil
}
