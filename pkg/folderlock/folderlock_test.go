package folderlock

import (
	"context"
	"testing"
	"time"

	"github.com/buildcore/pipcache/pkg/logging"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(context.Background(), dir, DefaultPolicy, logging.RootLogger)
	if err != nil {
		t.Fatalf("unable to acquire lock: %v", err)
	}
	if lock.Directory() != dir {
		t.Fatalf("directory mismatch: got %s, want %s", lock.Directory(), dir)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("unable to release lock: %v", err)
	}
}

func TestAcquireContention(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(context.Background(), dir, DefaultPolicy, logging.RootLogger)
	if err != nil {
		t.Fatalf("unable to acquire first lock: %v", err)
	}
	defer first.Release()

	policy := Policy{TotalWait: 200 * time.Millisecond, RetryInterval: 50 * time.Millisecond}
	if _, err := Acquire(context.Background(), dir, policy, logging.RootLogger); err == nil {
		t.Fatalf("expected contention error, got nil")
	}
}
