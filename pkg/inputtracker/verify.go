package inputtracker

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/buildcore/pipcache/pkg/envtoggle"
	"github.com/buildcore/pipcache/pkg/fingerprint"
	"github.com/buildcore/pipcache/pkg/inputtracker/journal"
	"github.com/buildcore/pipcache/pkg/parallelism"
)

// reportedMismatchLimit bounds how many per-path mismatch diagnostics step 7
// logs, per spec.md §4.B step 7 ("an atomic 'reported' counter limiting log
// noise to a small constant").
const reportedMismatchLimit = 10

// VerifyOptions configures a single verification pass.
type VerifyOptions struct {
	CurrentEnv       map[string]string
	CurrentMounts    map[string]string
	CurrentComposite fingerprint.Composite
	CurrentFilter    fingerprint.Filter

	ChangeJournal journal.ChangeJournal

	// CheckAllPossiblyChangedPaths disables the early-exit-on-first-mismatch
	// behavior of step 7.
	CheckAllPossiblyChangedPaths bool

	// HashFile hashes the file currently at path; supplied by the caller so
	// this package has no direct filesystem dependency in its core logic
	// path (tracker.go's hashFile is used by the default wiring).
	HashFile func(path string) ([32]byte, error)

	// ListDirectory re-enumerates a directory for step 8 recomputation.
	ListDirectory func(path string) ([]DirEntry, error)

	// Reporter receives up to reportedMismatchLimit human-readable mismatch
	// diagnostics; may be nil.
	Reporter func(message string)
}

// Verify implements checkIfAvailableInputsMatchPreviousRun (spec.md §4.B),
// the central verifier. The 8-numbered algorithm steps in the spec are
// followed in order; step 9 (checkpoint rewrite) is reflected in the
// returned VerificationResult.RewrittenCheckpoint, left for the caller to
// actually perform (this package does not own the checkpoint file).
func Verify(ctx context.Context, record *Record, opts VerifyOptions) VerificationResult {
	if envtoggle.ForceInvalidateCachedGraph() {
		return VerificationResult{Reason: MissReasonForcedMiss}
	}

	// Step 1: compatible first, then exact; filter-only mismatches may be
	// forgiven by the subset check.
	if record.CompositeCompatible != opts.CurrentComposite.Compatible {
		return VerificationResult{Reason: classifyFingerprintMismatch()}
	}
	if record.CompositeExact != opts.CurrentComposite.Exact {
		recordedFilter := fingerprint.Filter{
			ValueNames:     record.FilterValueNames,
			ValueRoots:     record.FilterValueRoots,
			ModulePatterns: record.FilterModulePatterns,
		}
		if !opts.CurrentFilter.IsSubsetOf(recordedFilter) {
			return VerificationResult{Reason: MissReasonEvaluationFilterChanged}
		}
	}

	// Step 2.
	if !record.AllDirectoriesAccountedFor {
		return VerificationResult{Reason: MissReasonDirectoriesNotAccountedFor}
	}

	// Step 3: environment variables, case-insensitive comparison, absent
	// current value must match the unset marker.
	for name, recordedValue := range record.EnvVars {
		current, ok := opts.CurrentEnv[name]
		if !ok {
			current = envtoggle.UnsetVariableMarker
		}
		if !envtoggle.EqualFold(recordedValue, current) {
			return VerificationResult{Reason: MissReasonEnvironmentVariableChanged}
		}
	}

	// Step 4: mount bindings.
	for name, recordedRoot := range record.Mounts {
		currentRoot, ok := opts.CurrentMounts[name]
		if !ok || currentRoot != recordedRoot {
			return VerificationResult{Reason: MissReasonMountChanged}
		}
	}

	// Step 5: the atomic save token was already read as part of loading
	// record (record.AtomicSaveToken); nothing further to validate here
	// beyond using it in step 6.

	// Step 6: consult the change journal if available and caught up.
	possiblyChanged := map[string]bool{}
	possiblyChangedDirs := map[string]bool{}
	journalNarrowed := false
	if opts.ChangeJournal != nil && opts.ChangeJournal.Available(ctx) {
		volumes := recordedVolumes(record)
		scan, err := opts.ChangeJournal.Scan(ctx, volumes, record.JournalCheckpointToken)
		if err == nil {
			if scan.NoChanges {
				return VerificationResult{Hit: true, RewrittenCheckpoint: true}
			}
			if scan.Complete {
				journalNarrowed = true
				for _, p := range scan.PossiblyChangedPaths {
					possiblyChanged[p] = true
				}
				for _, p := range scan.PossiblyChangedDirectories {
					possiblyChangedDirs[p] = true
				}
			}
		}
	}

	// Step 7: hash recorded (path, hash) pairs, restricted to possibly
	// changed paths when the journal narrowed the set, in parallel.
	var toCheck []pathHash
	for path, hash := range record.InputHashes {
		if journalNarrowed && !possiblyChanged[path] {
			continue
		}
		toCheck = append(toCheck, pathHash{path: path, hash: hash})
	}

	var reportedCount int64
	var mismatchFlag int32
	checker := fileCheckPartition{
		items:       toCheck,
		hashFile:    opts.HashFile,
		earlyExit:   !opts.CheckAllPossiblyChangedPaths,
		mismatch:    &mismatchFlag,
		reported:    &reportedCount,
		reporter:    opts.Reporter,
		reportLimit: reportedMismatchLimit,
	}
	pool := parallelism.NewPool(0)
	err := pool.Do(&checker)
	pool.Terminate()
	if err != nil {
		return VerificationResult{Reason: MissReasonCheckFailed}
	}
	if atomic.LoadInt32(&mismatchFlag) != 0 {
		return VerificationResult{Reason: MissReasonFingerprintChanged}
	}

	// Step 8: recompute directory membership fingerprints.
	for path, recordedFP := range record.DirectoryFingerprints {
		if journalNarrowed && !possiblyChangedDirs[path] {
			continue
		}
		if opts.ListDirectory == nil {
			return VerificationResult{Reason: MissReasonCheckFailed}
		}
		entries, err := opts.ListDirectory(path)
		if err != nil {
			return VerificationResult{Reason: MissReasonCheckFailed}
		}
		current := hashDirEntries(entries)
		if current != recordedFP {
			return VerificationResult{Reason: MissReasonFingerprintChanged}
		}
	}

	// Step 9: a full match; caller rewrites the checkpoint.
	return VerificationResult{Hit: true, RewrittenCheckpoint: true}
}

// pathHash pairs a recorded absolute path with its recorded hash, the unit
// fileCheckPartition distributes across workers.
type pathHash struct {
	path string
	hash RecordedHash
}

// fileCheckPartition is a parallelism.Partition that checks a bounded slice
// of (path, recordedHash) pairs, partitioned by index modulo the pool size.
// When earlyExit is set, a worker that has already observed a mismatch
// skips its remaining items rather than continuing to hash them (spec.md
// §4.B step 7: "unless checkAllPossiblyChangedPaths is set, the verifier
// short-circuits on the first definite mismatch").
type fileCheckPartition struct {
	items       []pathHash
	hashFile    func(path string) ([32]byte, error)
	earlyExit   bool
	mismatch    *int32
	reported    *int64
	reporter    func(string)
	reportLimit int64
}

func (p *fileCheckPartition) Run(index, size int) error {
	for i := index; i < len(p.items); i += size {
		if p.earlyExit && atomic.LoadInt32(p.mismatch) != 0 {
			return nil
		}
		item := p.items[i]
		var ok bool
		switch Kind(item.hash) {
		case HashKindAbsent:
			_, err := p.hashFile(item.path)
			ok = err != nil
		case HashKindExistentProbe:
			_, err := p.hashFile(item.path)
			ok = err == nil
		default:
			current, err := p.hashFile(item.path)
			ok = err == nil && current == item.hash
		}
		if !ok {
			atomic.StoreInt32(p.mismatch, 1)
			if p.reporter != nil && atomic.AddInt64(p.reported, 1) <= p.reportLimit {
				p.reporter("input changed: " + item.path)
			}
		}
	}
	return nil
}

func recordedVolumes(record *Record) []string {
	seen := map[string]bool{}
	var volumes []string
	for path := range record.InputHashes {
		vol := volumeOf(path)
		if !seen[vol] {
			seen[vol] = true
			volumes = append(volumes, vol)
		}
	}
	return volumes
}

func volumeOf(path string) string {
	if len(path) < 2 {
		return path
	}
	if idx := strings.Index(path[1:], "/"); idx >= 0 {
		return path[:idx+1]
	}
	return path
}

func classifyFingerprintMismatch() MissReason {
	// The distilled composite fingerprint does not carry its per-element
	// trace at verification time (only the two rolled-up hashes), so a
	// compatible-level mismatch cannot be narrowed to a specific named
	// element without re-running GraphFingerprinter.Build and diffing its
	// trace; callers that want a precise category should do so and pass
	// the result in. Absent that, the generic category is reported.
	return MissReasonFingerprintChanged
}
