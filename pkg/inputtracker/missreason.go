package inputtracker

// MissReason categorizes why checkIfAvailableInputsMatchPreviousRun decided
// a cached graph cannot be reused (spec.md §4.B step 1 and §7 failure
// semantics).
type MissReason uint8

const (
	// MissReasonNone indicates a hit: no miss occurred.
	MissReasonNone MissReason = iota
	// MissReasonBuildEngineChanged means the build engine identity
	// (commit id or deployment file hashes) differs from the recorded one.
	MissReasonBuildEngineChanged
	// MissReasonConfigFileChanged means a top-level config file's content
	// hash differs.
	MissReasonConfigFileChanged
	// MissReasonQualifierChanged means the recorded qualifier set differs.
	MissReasonQualifierChanged
	// MissReasonEvaluationFilterChanged means the current filter is neither
	// equal to nor a subset of the recorded one.
	MissReasonEvaluationFilterChanged
	// MissReasonFingerprintChanged is a catch-all for any other composite
	// fingerprint mismatch.
	MissReasonFingerprintChanged
	// MissReasonSpecFileChanges means only spec files changed -- the signal
	// that routes the invocation to PartialReuseCoordinator instead of a
	// full miss.
	MissReasonSpecFileChanges
	// MissReasonEnvironmentVariableChanged means a recorded environment
	// variable's current value no longer matches.
	MissReasonEnvironmentVariableChanged
	// MissReasonMountChanged means a recorded mount binding's root no
	// longer matches.
	MissReasonMountChanged
	// MissReasonDirectoriesNotAccountedFor means allDirectoriesAccountedFor
	// was false on the recorded run.
	MissReasonDirectoriesNotAccountedFor
	// MissReasonCheckFailed means an I/O error occurred during
	// verification; always downgraded to a miss, never a hard error.
	MissReasonCheckFailed
	// MissReasonForcedMiss means the ForceInvalidateCachedGraph environment
	// variable override was set.
	MissReasonForcedMiss
)

func (r MissReason) String() string {
	switch r {
	case MissReasonNone:
		return "None"
	case MissReasonBuildEngineChanged:
		return "BuildEngineChanged"
	case MissReasonConfigFileChanged:
		return "ConfigFileChanged"
	case MissReasonQualifierChanged:
		return "QualifierChanged"
	case MissReasonEvaluationFilterChanged:
		return "EvaluationFilterChanged"
	case MissReasonFingerprintChanged:
		return "FingerprintChanged"
	case MissReasonSpecFileChanges:
		return "SpecFileChanges"
	case MissReasonEnvironmentVariableChanged:
		return "EnvironmentVariableChanged"
	case MissReasonMountChanged:
		return "MountChanged"
	case MissReasonDirectoriesNotAccountedFor:
		return "DirectoriesNotAccountedFor"
	case MissReasonCheckFailed:
		return "CheckFailed"
	case MissReasonForcedMiss:
		return "ForcedMiss"
	default:
		return "Unknown"
	}
}

// VerificationResult is the outcome of checkIfAvailableInputsMatchPreviousRun.
type VerificationResult struct {
	Hit    bool
	Reason MissReason
	// RewrittenCheckpoint is true if the change-journal checkpoint was
	// rewritten under the current atomic save token as a side effect of a
	// hit (spec.md §4.B step 9).
	RewrittenCheckpoint bool
}
