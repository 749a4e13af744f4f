// Package contentcache defines the ContentCache capability that
// pkg/cachefacade consumes: a content-addressed blob store plus a
// two-phase (fingerprint -> descriptor) lookup store layered on top of it.
// Per spec.md §1 the store itself is out of scope for this core -- only the
// interface between the core and the store is specified -- so this package
// also provides Memory, an in-memory reference implementation used by tests
// and by the CLI, which always runs against it, continuing the "small in-memory
// fake implementing a narrow interface" idiom mutagen uses for its own
// test-only endpoints.
package contentcache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ContentCache is the narrow capability CacheFacade wraps in a session.
// Every method is a suspension point (spec.md §5) and may legitimately fail
// without that failure being fatal to the build (spec.md §7: "cache-layer
// recoverable... logged; operation retried or downgraded").
type ContentCache interface {
	// StoreContent streams content from r into the store and returns its
	// content hash.
	StoreContent(ctx context.Context, r io.Reader) ([32]byte, error)

	// HasContent reports, for each hash in hashes, whether the store
	// already holds it -- the "availability" query tryLoadContent performs
	// before attempting materialization (spec.md §4.E).
	HasContent(ctx context.Context, hashes [][32]byte) (map[[32]byte]bool, error)

	// Materialize writes the content addressed by hash to path, using a
	// hard link from the store's own backing file where the store and
	// destination share a volume, and falling back to a plain copy
	// otherwise.
	Materialize(ctx context.Context, path string, hash [32]byte) error

	// StoreDescriptor associates fingerprint with descriptor (opaque bytes
	// -- pkg/cachefacade encodes/decodes a PipGraphCacheDescriptor through
	// this boundary so this package has no dependency on pkg/graphbundle).
	StoreDescriptor(ctx context.Context, fingerprint [32]byte, descriptor []byte) error

	// LookupDescriptor returns the descriptor bytes previously stored under
	// fingerprint, or ok=false if none is stored.
	LookupDescriptor(ctx context.Context, fingerprint [32]byte) (descriptor []byte, ok bool, err error)
}

// Memory is an in-memory ContentCache, safe for concurrent use. The zero
// value is not usable; use NewMemory.
type Memory struct {
	mu          sync.Mutex
	blobs       map[[32]byte][]byte
	descriptors map[[32]byte][]byte
}

// NewMemory creates an empty in-memory content cache.
func NewMemory() *Memory {
	return &Memory{
		blobs:       make(map[[32]byte][]byte),
		descriptors: make(map[[32]byte][]byte),
	}
}

// StoreContent reads all of r, hashes it, and stores it under that hash. A
// second store of identical content is a no-op, consistent with the
// content-addressed contract.
func (m *Memory) StoreContent(ctx context.Context, r io.Reader) ([32]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return [32]byte{}, fmt.Errorf("read content: %w", err)
	}
	hash := sha256.Sum256(data)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[hash]; !ok {
		m.blobs[hash] = data
	}
	return hash, nil
}

// HasContent reports which of hashes are already present.
func (m *Memory) HasContent(ctx context.Context, hashes [][32]byte) (map[[32]byte]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[[32]byte]bool, len(hashes))
	for _, hash := range hashes {
		_, result[hash] = m.blobs[hash]
	}
	return result, nil
}

// Materialize writes the content addressed by hash to path. Memory has no
// backing filesystem to hard-link from, so it always performs a plain write;
// real ContentCache implementations are expected to hard-link where the
// store and destination share a volume (spec.md §4.E).
func (m *Memory) Materialize(ctx context.Context, path string, hash [32]byte) error {
	m.mu.Lock()
	data, ok := m.blobs[hash]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("content cache: no content for hash %x", hash)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("materialize %s: %w", path, err)
	}
	return nil
}

// StoreDescriptor records descriptor under fingerprint, overwriting any
// descriptor previously stored there.
func (m *Memory) StoreDescriptor(ctx context.Context, fingerprint [32]byte, descriptor []byte) error {
	stored := make([]byte, len(descriptor))
	copy(stored, descriptor)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.descriptors[fingerprint] = stored
	return nil
}

// LookupDescriptor returns the descriptor bytes stored under fingerprint, if
// any.
func (m *Memory) LookupDescriptor(ctx context.Context, fingerprint [32]byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	descriptor, ok := m.descriptors[fingerprint]
	if !ok {
		return nil, false, nil
	}
	result := make([]byte, len(descriptor))
	copy(result, descriptor)
	return result, true, nil
}

var _ ContentCache = (*Memory)(nil)
