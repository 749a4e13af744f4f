package engine

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// DeploymentDirectory computes the directory containing the engine's own
// binary deployment (the executable plus any adjacent support files).
// cmd/pipcache records it as the ledger's engine binary folder; neither the
// directory nor its files are hashed into the graph fingerprint.
func DeploymentDirectory() (string, error) {
	executable, err := os.Executable()
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(executable)
	if err != nil {
		resolved = executable
	}
	return filepath.Dir(resolved), nil
}

// SourceTreePath computes the path to the engine's own source tree, useful
// only in development/test builds (mirrors the teacher's analogous helper).
func SourceTreePath() (string, error) {
	_, filePath, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("unable to compute caller file path")
	}
	return filepath.Dir(filepath.Dir(filepath.Dir(filePath))), nil
}
