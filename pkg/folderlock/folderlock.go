// Package folderlock implements FolderLock (spec §4.J): an exclusive,
// single-instance lock on an engine output directory with bounded retry. It
// continues mutagen's pkg/daemon.AcquireLock / pkg/filesystem/locking.Locker
// pattern (advisory flock on POSIX, LockFileEx on Windows), generalized from
// a fixed daemon directory to any caller-supplied directory.
package folderlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/buildcore/pipcache/pkg/logging"
)

// lockFileName is the name of the lock file created inside the locked
// directory.
const lockFileName = ".pipcache.lock"

// firstProbeTimeout is the short initial wait used to distinguish "busy
// once, likely to clear" from "a true concurrent second build" (spec §4.J).
const firstProbeTimeout = 5 * time.Second

// ErrLockContention indicates that the lock could not be acquired within the
// configured retry budget. Per spec §7 this is one of exactly two error
// classes that are fatal to an invocation.
var ErrLockContention = errors.New("folder lock contention")

// Policy configures the retry behavior for Acquire.
type Policy struct {
	// TotalWait is the total wall-clock budget to spend retrying.
	TotalWait time.Duration
	// RetryInterval is the sleep interval between retry attempts after the
	// first probe.
	RetryInterval time.Duration
}

// DefaultPolicy mirrors the teacher's daemon lock defaults.
var DefaultPolicy = Policy{
	TotalWait:     30 * time.Second,
	RetryInterval: 2 * time.Second,
}

// Lock represents an acquired exclusive lock on an output directory.
type Lock struct {
	file      *os.File
	directory string
	logger    *logging.Logger
}

// Acquire attempts to acquire the exclusive lock on directory, honoring the
// supplied retry policy. The first attempt is bounded to firstProbeTimeout so
// that a transient single "busy once" holder can be distinguished, in logs,
// from sustained contention; subsequent attempts use policy.RetryInterval
// until policy.TotalWait elapses.
func Acquire(ctx context.Context, directory string, policy Policy, logger *logging.Logger) (*Lock, error) {
	if err := os.MkdirAll(directory, 0700); err != nil {
		return nil, fmt.Errorf("unable to create output directory: %w", err)
	}
	path := filepath.Join(directory, lockFileName)

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("unable to open lock file: %w", err)
	}

	deadline := time.Now().Add(policy.TotalWait)
	attempt := 0
	probe := firstProbeTimeout
	if probe > policy.TotalWait {
		probe = policy.TotalWait
	}
	for {
		attempt++
		acquired, err := tryLockWithTimeout(file, probe)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("unable to attempt lock acquisition: %w", err)
		}
		if acquired {
			logger.Debugf("Acquired folder lock on %s after %d attempt(s)", directory, attempt)
			return &Lock{file: file, directory: directory, logger: logger}, nil
		}

		logger.Infof("Output directory %s is locked by another instance (attempt %d)", directory, attempt)

		if time.Now().After(deadline) {
			file.Close()
			return nil, fmt.Errorf("%w: directory %s still locked after %s", ErrLockContention, directory, policy.TotalWait)
		}

		select {
		case <-ctx.Done():
			file.Close()
			return nil, ctx.Err()
		case <-time.After(policy.RetryInterval):
		}
		probe = policy.RetryInterval
	}
}

// tryLockWithTimeout attempts a non-blocking lock, polling briefly up to
// timeout to absorb very short-lived contention without a full retry-sleep
// round trip.
func tryLockWithTimeout(file *os.File, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		err := platformLock(file, false)
		if err == nil {
			return true, nil
		}
		if !isLockBusyError(err) {
			return false, err
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Release releases the lock and closes the underlying file.
func (l *Lock) Release() error {
	if err := platformUnlock(l.file); err != nil {
		l.file.Close()
		return fmt.Errorf("unable to release folder lock: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("unable to close lock file: %w", err)
	}
	return nil
}

// Directory returns the locked directory's path.
func (l *Lock) Directory() string {
	return l.directory
}
