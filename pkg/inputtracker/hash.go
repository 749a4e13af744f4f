// Package inputtracker implements InputTracker (spec.md §4.B): it records
// every file read, directory enumeration, environment variable, and mount
// binding consumed while constructing a pip graph, and verifies those
// inputs are still valid on a later invocation before allowing the graph to
// be reused.
package inputtracker

import (
	"crypto/sha256"
	"fmt"
)

// RecordedHash is a plain 32-byte value: either a real content hash, or one
// of the well-known sentinel values below. spec.md §6 requires these
// sentinels to be "literal, fixed 32-byte values... byte-stable across
// invocations," so rather than a tagged union this package follows the wire
// format directly and derives each sentinel as the SHA-256 of a fixed label
// string -- stable forever, and indistinguishable from a colliding real
// content hash only with cryptographically negligible probability.
type RecordedHash = [32]byte

// Absent is the AbsentFile marker: the path was probed and found not to
// exist.
var Absent = sentinel("AbsentFile")

// ExistentProbe is the ExistentFileProbe marker: the path was probed and
// found to exist, without its content being read.
var ExistentProbe = sentinel("ExistentFileProbe")

// ZeroHash is the well-known zero-content sentinel spec.md §6 names
// alongside AbsentFile and ExistentFileProbe.
var ZeroHash = sentinel("ZeroHash")

func sentinel(label string) [32]byte {
	return sha256.Sum256([]byte("pipcache-sentinel:" + label))
}

// HashKind classifies a RecordedHash value for transition-rule purposes.
type HashKind uint8

const (
	HashKindReal HashKind = iota
	HashKindAbsent
	HashKindExistentProbe
)

// Kind classifies h.
func Kind(h RecordedHash) HashKind {
	switch h {
	case Absent:
		return HashKindAbsent
	case ExistentProbe:
		return HashKindExistentProbe
	default:
		return HashKindReal
	}
}

// transition applies the legal-transition rules of spec.md §3 to a path
// that already has a recorded hash. It returns the hash that should be
// stored, or an error if the transition is illegal (a programming error
// that must fail the build).
func transition(existing, incoming RecordedHash, path string) (RecordedHash, error) {
	existingKind, incomingKind := Kind(existing), Kind(incoming)
	switch {
	case existingKind == HashKindExistentProbe && incomingKind == HashKindReal:
		return incoming, nil
	case existingKind == HashKindReal && incomingKind == HashKindExistentProbe:
		return existing, nil
	case existingKind == HashKindExistentProbe && incomingKind == HashKindExistentProbe:
		return existing, nil
	case existingKind == HashKindReal && incomingKind == HashKindReal:
		if existing != incoming {
			return RecordedHash{}, fmt.Errorf(
				"conflicting concurrent registrations for %s: recorded %x, now %x",
				path, existing, incoming,
			)
		}
		return existing, nil
	case existingKind == HashKindAbsent && incomingKind != HashKindAbsent:
		return RecordedHash{}, fmt.Errorf("illegal transition for %s: path recorded absent, now present", path)
	case existingKind != HashKindAbsent && incomingKind == HashKindAbsent:
		return RecordedHash{}, fmt.Errorf("illegal transition for %s: path recorded present, now absent", path)
	case existingKind == HashKindAbsent && incomingKind == HashKindAbsent:
		return existing, nil
	default:
		return RecordedHash{}, fmt.Errorf("unrecognized hash transition for %s", path)
	}
}
