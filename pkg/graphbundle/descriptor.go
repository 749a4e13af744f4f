package graphbundle

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"fmt"
	"sort"

	"github.com/buildcore/pipcache/pkg/graph"
)

// PipGraphCacheDescriptor maps each bundle file type to the content hash of
// its serialized bytes, the handle pkg/cachefacade and pkg/graphcache store
// and look up graphs by (spec.md §4.D: "a graph is addressed both by the
// input fingerprint that produced it and by this content descriptor, so two
// builds with different inputs but byte-identical table files share cache
// storage").
type PipGraphCacheDescriptor struct {
	Entries map[FileType][32]byte
}

// BuildDescriptor computes, for every table WritePipGraph writes for g except
// historicTableSizes, the SHA-256 of its gob-encoded body (before the
// envelope and any compression are applied), without touching disk -- used both to populate a fresh
// descriptor after a build and to compare a candidate graph against an
// existing cache entry.
func BuildDescriptor(g *graph.PipGraph) (PipGraphCacheDescriptor, error) {
	bodies := map[FileType]interface{}{
		FileTypePathTable:         pathTableBody{Entries: g.Paths.Entries()},
		FileTypeStringTable:       stringTableBody{Values: g.Strings.Entries()},
		FileTypeSymbolTable:       stringTableBody{Values: g.Symbols.Entries()},
		FileTypeQualifierTable:    stringTableBody{Values: g.Qualifiers.Entries()},
		FileTypePipTable:          pipTableBody{Pips: g.Pips.All()},
		FileTypeDirectedGraph:     directedGraphBody{Nodes: g.Edges.Nodes(), Edges: g.Edges.Edges()},
		FileTypeMountPathExpander: mountExpanderBody{Snapshot: g.Mounts},
	}

	entries := make(map[FileType][32]byte, len(bodies))
	for ft, body := range bodies {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(body); err != nil {
			return PipGraphCacheDescriptor{}, fmt.Errorf("encoding %s: %w", ft, err)
		}
		entries[ft] = sha256.Sum256(buf.Bytes())
	}
	return PipGraphCacheDescriptor{Entries: entries}, nil
}

// ContentFingerprint rolls every per-file content hash into a single
// fingerprint, stable regardless of map iteration order: entries are sorted
// by file type before hashing.
func (d PipGraphCacheDescriptor) ContentFingerprint() [32]byte {
	types := make([]FileType, 0, len(d.Entries))
	for ft := range d.Entries {
		types = append(types, ft)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	hasher := sha256.New()
	for _, ft := range types {
		hash := d.Entries[ft]
		hasher.Write([]byte{byte(ft)})
		hasher.Write(hash[:])
	}
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}

// Equal reports whether two descriptors describe byte-identical content for
// every file type they both carry.
func (d PipGraphCacheDescriptor) Equal(other PipGraphCacheDescriptor) bool {
	if len(d.Entries) != len(other.Entries) {
		return false
	}
	for ft, hash := range d.Entries {
		if other.Entries[ft] != hash {
			return false
		}
	}
	return true
}
