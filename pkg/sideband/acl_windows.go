//go:build windows

package sideband

import (
	"os"

	"github.com/hectane/go-acl"
)

// removeOutputTree resets path's ACL to grant the current owner full write
// access before recursively removing it. Without this, a shared-opaque
// output directory produced by a process running under a different token
// (or with inherited deny ACEs) can refuse deletion outright on Windows,
// where file permissions are enforced independently of the POSIX mode bits
// os.RemoveAll relies on elsewhere.
func removeOutputTree(path string) error {
	if err := acl.Chmod(path, os.FileMode(0o777)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.RemoveAll(path)
}
