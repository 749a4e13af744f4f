// Package journal defines the ChangeJournal abstraction InputTracker uses to
// avoid re-hashing every recorded input on every invocation (spec.md §4.B
// step 6): when a volume supports a filesystem change journal, scanning it
// for activity since a saved token is far cheaper than walking every
// recorded path. journal.None is the always-available fallback that simply
// reports itself unavailable, which drives InputTracker's per-file hashing
// path (step 7).
package journal

import "context"

// ScanResult is the outcome of scanning a change journal for the volumes an
// InputTracker record covers.
type ScanResult struct {
	// NoChanges is true when the journal can prove, without enumerating any
	// paths, that nothing has changed since sinceToken. This is the "no file
	// reads required" fast path spec.md §4.B step 6 describes.
	NoChanges bool

	// PossiblyChangedPaths and PossiblyChangedDirectories list paths the
	// journal reports may have changed. When Complete is false, these lists
	// are a conservative (possibly partial) signal and the caller must treat
	// every recorded path/directory not present in them as "unknown"
	// rather than "unchanged" -- the verifier only trusts a narrowed set
	// when the journal vouches for completeness.
	PossiblyChangedPaths       []string
	PossiblyChangedDirectories []string
	Complete                   bool
}

// ChangeJournal abstracts a filesystem-level change journal.
type ChangeJournal interface {
	// Available reports whether this journal implementation is usable in
	// the current process (right platform, right volume type, watch
	// successfully established).
	Available(ctx context.Context) bool

	// CurrentToken returns an opaque token identifying the journal's
	// current position, to be persisted alongside an InputTracker record
	// and supplied as sinceToken on a later Scan.
	CurrentToken(ctx context.Context) (string, error)

	// Scan reports what has changed across volumes since sinceToken.
	Scan(ctx context.Context, volumes []string, sinceToken string) (ScanResult, error)
}

// None is the always-unavailable fallback journal.
type None struct{}

// Available always returns false for None.
func (None) Available(ctx context.Context) bool { return false }

// CurrentToken is unreachable for None since Available is always false, but
// is implemented to satisfy the interface.
func (None) CurrentToken(ctx context.Context) (string, error) { return "", nil }

// Scan is unreachable for None since Available is always false.
func (None) Scan(ctx context.Context, volumes []string, sinceToken string) (ScanResult, error) {
	return ScanResult{}, nil
}
