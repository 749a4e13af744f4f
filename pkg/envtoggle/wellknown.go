package envtoggle

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// UnsetVariableMarker is the sentinel value InputTracker records for an
	// environment variable that was consulted but unset at registration time.
	// A current value matches a recorded UnsetVariableMarker only if the
	// variable is still absent from the current environment.
	UnsetVariableMarker = "[[UnsetEnvironmentVariable]]"

	// ForceInvalidateCachedGraphVariable is read by InputTracker's verifier;
	// any value forces a miss with reason ForcedMiss.
	ForceInvalidateCachedGraphVariable = "ForceInvalidateCachedGraph"

	// DebugGraphFingerprintSaltVariable, if set, is folded into the overall
	// composite fingerprint as an additional salt by GraphFingerprinter.
	DebugGraphFingerprintSaltVariable = "DebugGraphFingerprintSalt"

	// PostExecOptimizeThresholdVariable names the minimum build duration (a
	// Go duration string, e.g. "45s") required before optional optimization
	// data is serialized into the bundle.
	PostExecOptimizeThresholdVariable = "PostExecOptimizeThreshold"
)

// ForceInvalidateCachedGraph reports whether the force-invalidate override is
// set in the current process environment.
func ForceInvalidateCachedGraph() bool {
	_, ok := os.LookupEnv(ForceInvalidateCachedGraphVariable)
	return ok
}

// DebugGraphFingerprintSalt returns the configured extra salt, if any.
func DebugGraphFingerprintSalt() (string, bool) {
	return os.LookupEnv(DebugGraphFingerprintSaltVariable)
}

// PostExecOptimizeThreshold parses the configured threshold, returning false
// if it is unset or malformed (callers should then skip optimization data).
func PostExecOptimizeThreshold() (time.Duration, bool) {
	value, ok := os.LookupEnv(PostExecOptimizeThresholdVariable)
	if !ok {
		return 0, false
	}
	if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
		return duration, true
	}
	// Also accept a bare integer number of seconds for compatibility with
	// shell scripts that export plain numbers.
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}

// CurrentValue returns the current value of name, using UnsetVariableMarker
// when the variable is absent so it can be compared directly against a
// recorded InputTracker value.
func CurrentValue(name string) string {
	if value, ok := os.LookupEnv(name); ok {
		return value
	}
	return UnsetVariableMarker
}

// EqualFold reports whether two recorded/current environment variable values
// are equal under the case-insensitive comparison spec.md §4.B step 3
// requires.
func EqualFold(recorded, current string) bool {
	return strings.EqualFold(recorded, current)
}
