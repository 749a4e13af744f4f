// Package engine exposes process-wide identity for the build engine: its
// semantic version, debug-mode flag, and the location of its own deployment
// files. cmd/pipcache records the version and deployment directory in the
// invocation ledger; none of them is hashed into the graph fingerprint.
package engine

import (
	"fmt"
)

const (
	// VersionMajor is the current major version of the engine.
	VersionMajor = 1
	// VersionMinor is the current minor version of the engine.
	VersionMinor = 0
	// VersionPatch is the current patch version of the engine.
	VersionPatch = 0
)

// Version is the full semantic version string, computed once at init time.
var Version string

func init() {
	Version = fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)
}
