package parallelism

import (
	"sync/atomic"
	"testing"
)

type counterPartition struct {
	total *int64
}

func (c *counterPartition) Run(index, size int) error {
	atomic.AddInt64(c.total, 1)
	return nil
}

func TestPoolRunsOnEveryWorker(t *testing.T) {
	pool := NewPool(4)
	defer pool.Terminate()

	var total int64
	if err := pool.Do(&counterPartition{total: &total}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 4 {
		t.Fatalf("expected 4 invocations, got %d", total)
	}
}

type failingPartition struct{ index int }

func (f *failingPartition) Run(index, size int) error {
	if index == f.index {
		return errTestPartition
	}
	return nil
}

var errTestPartition = &poolTestError{"partition failed"}

type poolTestError struct{ msg string }

func (e *poolTestError) Error() string { return e.msg }

func TestPoolPropagatesFirstError(t *testing.T) {
	pool := NewPool(3)
	defer pool.Terminate()

	if err := pool.Do(&failingPartition{index: 1}); err == nil {
		t.Fatal("expected an error from the failing partition")
	}
}

func TestPoolDefaultsSizeWhenNonPositive(t *testing.T) {
	pool := NewPool(0)
	defer pool.Terminate()

	if pool.Size() < 1 {
		t.Fatalf("expected a positive default pool size, got %d", pool.Size())
	}
}
