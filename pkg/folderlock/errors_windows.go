//go:build windows
// +build windows

package folderlock

import (
	"errors"
	"syscall"
)

// isLockBusyError reports whether err indicates the lock is held by another
// process, as opposed to some other failure.
func isLockBusyError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		// ERROR_LOCK_VIOLATION and ERROR_IO_PENDING both indicate the lock is
		// currently unavailable rather than a hard failure.
		return errno == 33 || errno == 997
	}
	return false
}
