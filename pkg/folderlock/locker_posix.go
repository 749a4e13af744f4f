//go:build !windows && !plan9
// +build !windows,!plan9

package folderlock

import (
	"os"
	"syscall"
)

// platformLock attempts to acquire an exclusive advisory lock on the file,
// blocking or failing immediately per the block argument.
func platformLock(file *os.File, block bool) error {
	lockSpec := syscall.Flock_t{
		Type:   syscall.F_WRLCK,
		Whence: int16(os.SEEK_SET),
		Start:  0,
		Len:    0,
	}
	operation := syscall.F_SETLK
	if block {
		operation = syscall.F_SETLKW
	}
	return syscall.FcntlFlock(file.Fd(), operation, &lockSpec)
}

// platformUnlock releases the lock acquired by platformLock.
func platformUnlock(file *os.File) error {
	unlockSpec := syscall.Flock_t{
		Type:   syscall.F_UNLCK,
		Whence: int16(os.SEEK_SET),
		Start:  0,
		Len:    0,
	}
	return syscall.FcntlFlock(file.Fd(), syscall.F_SETLK, &unlockSpec)
}
