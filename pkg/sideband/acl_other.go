//go:build !windows

package sideband

import "os"

// removeOutputTree recursively removes path. POSIX mode bits already permit
// the owning user to remove its own output tree, so no ACL reset is needed
// here (contrast acl_windows.go).
func removeOutputTree(path string) error {
	return os.RemoveAll(path)
}
