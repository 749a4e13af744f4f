// Package fingerprint implements GraphFingerprinter (spec.md §4.C): it
// reduces everything that can invalidate a cached graph into two composite
// SHA-256 fingerprints, continuing mutagen's digest-construction idiom
// (pkg/synchronization/digest.go picks a hash.Hash factory per algorithm;
// here the algorithm is fixed to SHA-256 but the "accumulate named
// elements, hash the accumulation" shape is the same).
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/buildcore/pipcache/pkg/envtoggle"
)

// Fingerprint is an opaque composite digest. The zero value, Invalid, marks
// a failed computation (spec.md §4.C: "any I/O error... returns Invalid").
type Fingerprint [32]byte

// Invalid is returned whenever fingerprint computation fails partway
// through; callers must treat it as an immediate cache miss, never compare
// it for equality against a stored value.
var Invalid Fingerprint

// TraceEntry is one named, hashed element contributing to a fingerprint,
// recorded in contribution order for the human-readable trace spec.md §4.C
// requires ("emits a human-readable trace listing every named element and
// its hash").
type TraceEntry struct {
	Name string
	Hash [32]byte
}

// Builder accumulates named elements in order and produces both the exact
// and compatible CompositeGraphFingerprint values spec.md §4.C describes.
type Builder struct {
	trace      []TraceEntry
	filterHash [32]byte
	unfiltered [32]byte
	haveFilter bool
}

// NewBuilder creates an empty fingerprint builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddString hashes a single string value under name.
func (b *Builder) AddString(name, value string) {
	b.add(name, sha256.Sum256([]byte(value)))
}

// AddStrings hashes a sorted list of strings under name, so that the
// resulting fingerprint is independent of input order (spec.md §4.C:
// "qualifiers (sorted)", "module names — each sorted").
func (b *Builder) AddStrings(name string, values []string) {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	b.add(name, sha256.Sum256([]byte(strings.Join(sorted, "\x00"))))
}

// AddBool hashes a boolean flag under name.
func (b *Builder) AddBool(name string, value bool) {
	if value {
		b.add(name, sha256.Sum256([]byte{1}))
	} else {
		b.add(name, sha256.Sum256([]byte{0}))
	}
}

// AddHash records a pre-computed hash (e.g. a config file's content hash)
// under name without rehashing it.
func (b *Builder) AddHash(name string, hash [32]byte) {
	b.add(name, hash)
}

// AddFilterHash records the evaluation filter's content hash as the "exact"
// filter contribution, and unfilteredHash as the value used in the
// "compatible" fingerprint instead (spec.md §4.C: "Compatible: identical to
// exact except the filter hash is set to the unfiltered hash").
func (b *Builder) AddFilterHash(name string, filterHash, unfilteredHash [32]byte) {
	b.filterHash = filterHash
	b.unfiltered = unfilteredHash
	b.haveFilter = true
	b.add(name, filterHash)
}

func (b *Builder) add(name string, hash [32]byte) {
	b.trace = append(b.trace, TraceEntry{Name: name, Hash: hash})
}

// HostEnvironment adds the host OS, CPU architecture, and elevation state
// contributions that every CompositeGraphFingerprint must include.
func (b *Builder) HostEnvironment(elevated bool) {
	b.AddString("HostOS", runtime.GOOS)
	b.AddString("HostArch", runtime.GOARCH)
	b.AddBool("Elevated", elevated)
}

// AdditionalSalts folds in any extra salts, including the debug salt read
// from the DebugGraphFingerprintSalt environment variable override
// (spec.md §6 env vars).
func (b *Builder) AdditionalSalts(salts ...string) {
	if salt, ok := envtoggle.DebugGraphFingerprintSalt(); ok {
		salts = append(salts, salt)
	}
	if len(salts) > 0 {
		b.AddStrings("AdditionalSalts", salts)
	}
}

// Composite is a pair of related fingerprints: Exact, which must match
// bit-for-bit for a full cache hit, and Compatible, which ignores the
// evaluation filter so graphs built with a narrower filter can still be
// recognized as structurally compatible (spec.md §4.C).
type Composite struct {
	Exact      Fingerprint
	Compatible Fingerprint
}

// Build finalizes the accumulated trace into a Composite fingerprint pair.
// Calling Build does not prevent further additions; each call recomputes
// from the full trace recorded so far.
func (b *Builder) Build() Composite {
	exactInput := make([]byte, 0, len(b.trace)*32)
	for _, entry := range b.trace {
		exactInput = append(exactInput, entry.Hash[:]...)
	}
	exact := sha256.Sum256(exactInput)

	if !b.haveFilter {
		return Composite{Exact: exact, Compatible: exact}
	}

	compatInput := make([]byte, 0, len(b.trace)*32)
	for _, entry := range b.trace {
		if entry.Name == filterEntryName(b) {
			compatInput = append(compatInput, b.unfiltered[:]...)
			continue
		}
		compatInput = append(compatInput, entry.Hash[:]...)
	}
	compatible := sha256.Sum256(compatInput)
	return Composite{Exact: exact, Compatible: compatible}
}

func filterEntryName(b *Builder) string {
	for _, entry := range b.trace {
		if entry.Hash == b.filterHash {
			return entry.Name
		}
	}
	return ""
}

// Trace returns the accumulated named elements and their individual hashes,
// for human-readable diagnostic output.
func (b *Builder) Trace() []TraceEntry {
	out := make([]TraceEntry, len(b.trace))
	copy(out, b.trace)
	return out
}

// FormatTrace renders the trace as a human-readable multi-line string,
// one "Name: hex-hash" line per contributing element, in contribution
// order.
func FormatTrace(trace []TraceEntry) string {
	var sb strings.Builder
	for _, entry := range trace {
		fmt.Fprintf(&sb, "%s: %x\n", entry.Name, entry.Hash)
	}
	return sb.String()
}
