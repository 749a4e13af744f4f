package inputtracker

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/buildcore/pipcache/pkg/inputtracker/journal"
	"github.com/buildcore/pipcache/pkg/pathid"
)

// DirEntry is a single named member of a tracked directory, as returned by
// the caller-supplied lister function passed to TrackDirectory.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Tracker accumulates input registrations for a single graph-construction
// invocation. It is safe for concurrent use: registrations on disjoint paths
// never interact, and registrations on the same path are serialized
// per-path via the transition rules in hash.go (spec.md §3 "Ordering
// guarantees").
type Tracker struct {
	paths *pathid.Table

	mu                    sync.Mutex
	inputHashes           map[pathid.ID]RecordedHash
	directoryFingerprints map[pathid.ID][32]byte
	allDirectoriesOK      bool

	// atomicSaveToken correlates this record with the change-journal
	// checkpoint written alongside it (spec.md §3).
	atomicSaveToken string

	changeJournal journal.ChangeJournal
}

// New creates an empty Tracker. changeJournal may be journal.None{} if no
// change-journal implementation is available on this platform/volume.
func New(paths *pathid.Table, changeJournal journal.ChangeJournal) *Tracker {
	return &Tracker{
		paths:                 paths,
		inputHashes:           make(map[pathid.ID]RecordedHash),
		directoryFingerprints: make(map[pathid.ID][32]byte),
		allDirectoriesOK:      true,
		atomicSaveToken:       uuid.NewString(),
		changeJournal:         changeJournal,
	}
}

// AtomicSaveToken returns the fresh token minted for this tracker instance.
func (t *Tracker) AtomicSaveToken() string {
	return t.atomicSaveToken
}

// RegisterFileAccess hashes a file's current content (via contentHash,
// typically a streaming SHA-256 over the open file) and records it,
// applying the transition rules for any prior registration of the same
// path.
func (t *Tracker) RegisterFileAccess(path pathid.ID, contentHash func() ([32]byte, error)) error {
	hash, err := contentHash()
	if err != nil {
		return fmt.Errorf("unable to hash %v: %w", path, err)
	}
	return t.record(path, hash)
}

// RegisterFileAccessFromPath is a convenience wrapper around
// RegisterFileAccess that hashes the file at the given filesystem path.
func (t *Tracker) RegisterFileAccessFromPath(id pathid.ID, filesystemPath string) error {
	return t.RegisterFileAccess(id, func() ([32]byte, error) {
		return hashFile(filesystemPath)
	})
}

// ProbeFileOrDirectoryExistence records the result of an existence probe
// without reading content.
func (t *Tracker) ProbeFileOrDirectoryExistence(path pathid.ID, exists bool) error {
	if exists {
		return t.record(path, ExistentProbe)
	}
	return t.record(path, Absent)
}

func (t *Tracker) record(path pathid.ID, incoming RecordedHash) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pathString, _ := t.paths.Expand(path)
	existing, ok := t.inputHashes[path]
	if !ok {
		t.inputHashes[path] = incoming
		return nil
	}
	resolved, err := transition(existing, incoming, pathString)
	if err != nil {
		return err
	}
	t.inputHashes[path] = resolved
	return nil
}

// TrackDirectory records a fingerprint of a directory's ordered membership
// (name + attributes). If list fails, allDirectoriesAccountedFor is
// permanently cleared for this tracker, forcing a miss on the next run
// (spec.md §3).
func (t *Tracker) TrackDirectory(path pathid.ID, list func() ([]DirEntry, error)) error {
	entries, err := list()
	if err != nil {
		t.mu.Lock()
		t.allDirectoriesOK = false
		t.mu.Unlock()
		return fmt.Errorf("unable to enumerate directory %v: %w", path, err)
	}

	sum := hashDirEntries(entries)

	t.mu.Lock()
	t.directoryFingerprints[path] = sum
	t.mu.Unlock()
	return nil
}

// hashDirEntries computes the order-independent membership fingerprint of a
// directory listing: entries are sorted by name, then each name and its
// directory/file attribute is folded into a SHA-256 digest. Used both when
// recording a directory (TrackDirectory) and when recomputing it during
// verification (verify.go step 8), so the two must stay byte-for-byte
// identical.
func hashDirEntries(entries []DirEntry) [32]byte {
	sorted := append([]DirEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	hasher := sha256.New()
	for _, entry := range sorted {
		io.WriteString(hasher, entry.Name)
		if entry.IsDir {
			hasher.Write([]byte{1})
		} else {
			hasher.Write([]byte{0})
		}
	}
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}

// AllDirectoriesAccountedFor reports whether every directory enumeration
// succeeded.
func (t *Tracker) AllDirectoriesAccountedFor() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allDirectoriesOK
}

// hashFile computes the SHA-256 digest of a file's content.
func hashFile(path string) ([32]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return [32]byte{}, err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return [32]byte{}, err
	}
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum, nil
}
