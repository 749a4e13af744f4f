//go:build !windows
// +build !windows

package folderlock

import (
	"errors"
	"syscall"
)

// isLockBusyError reports whether err indicates the lock is held by another
// process, as opposed to some other failure.
func isLockBusyError(err error) bool {
	return errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EAGAIN)
}
