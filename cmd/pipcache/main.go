// Command pipcache drives one invocation of the graph-reuse-and-input-
// tracking core end to end: it takes the folder lock (J), appends an
// invocation-ledger entry (K), computes a graph fingerprint (C), runs the
// three-tier graph cache lookup (F) backed by the cache facade (E) and
// verified by the input tracker (B), falls back to partial reuse (G) or a
// fresh build when nothing hits, examines sideband files (H) before the
// caller would schedule anything, and hands the result to engine-state
// carry (I) for the next invocation in this process. The spec-language
// front-end and scheduler that would actually populate a graph are outside
// this core's scope (spec.md §1), so a full miss here produces an empty
// graph rather than one built by evaluating real specifications.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCommand = &cobra.Command{
	Use:   "pipcache",
	Short: "pipcache drives the graph reuse and input tracking core of a build engine",
}

func main() {
	// Load a .env file from the working directory if one is present; a
	// missing file is not an error, matching godotenv's own convention for
	// optional local overrides.
	_ = godotenv.Load()

	rootCommand.AddCommand(buildCommand)

	cobra.EnableCommandSorting = false
	cobra.MousetrapHelpText = ""

	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
