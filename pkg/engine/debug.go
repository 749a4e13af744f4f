package engine

import (
	"os"
)

// DebugEnabled controls whether or not verbose debug logging is enabled. It
// is set automatically based on the PIPCACHE_DEBUG environment variable.
var DebugEnabled bool

func init() {
	DebugEnabled = os.Getenv("PIPCACHE_DEBUG") == "1"
}
