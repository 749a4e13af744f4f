// Package parallelism provides a fixed-size worker array for partitioned,
// bounded-parallelism workloads: each worker is told its own index and the
// array's total size and is responsible for picking its own slice of work
// (typically every item whose position modulo size equals its index). This
// continues mutagen's pkg/parallelism SIMD worker array, generalized from a
// synchronization-scan-specific workload to any caller that needs bounded
// parallel hashing (pkg/inputtracker's verifier, spec.md §4.B step 7).
package parallelism

import (
	"runtime"
	"sync"
)

// Partition is a unit of partitioned work submitted to a Pool. Run is
// invoked once per worker goroutine, receiving that worker's index and the
// pool's total size so it can select its own slice of a larger item set.
type Partition interface {
	Run(index, size int) error
}

// Pool encapsulates a fixed array of worker goroutines that perform
// partitioned workloads.
type Pool struct {
	lock       sync.Mutex
	size       int
	terminated bool
	submit     []chan Partition
	errors     []chan error
}

// NewPool creates a new worker pool with the given number of workers. If
// size is zero or negative, the number of workers defaults to
// runtime.NumCPU().
func NewPool(size int) *Pool {
	if size < 1 {
		size = runtime.NumCPU()
		if size < 1 {
			size = 1
		}
	}

	pool := &Pool{
		size:   size,
		submit: make([]chan Partition, size),
		errors: make([]chan error, size),
	}

	for i := 0; i < size; i++ {
		pool.submit[i] = make(chan Partition)
		pool.errors[i] = make(chan error)
		go pool.work(i)
	}

	return pool
}

func (p *Pool) work(index int) {
	for partition := range p.submit[index] {
		p.errors[index] <- partition.Run(index, p.size)
	}
	close(p.errors[index])
}

// Do dispatches partition to every worker and waits for all of them to
// finish, returning the first non-nil error any worker reported. It must
// not be called concurrently with itself or after Terminate, though
// sequential calls from different goroutines are safe since the lock
// serializes them.
func (p *Pool) Do(partition Partition) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.terminated {
		panic("work submitted to terminated pool")
	}

	for i := 0; i < p.size; i++ {
		p.submit[i] <- partition
	}

	var firstErr error
	for i := 0; i < p.size; i++ {
		if err := <-p.errors[i]; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return p.size
}

// Terminate shuts down every worker goroutine and waits for them to exit.
func (p *Pool) Terminate() {
	p.lock.Lock()
	defer p.lock.Unlock()

	for i := 0; i < p.size; i++ {
		close(p.submit[i])
		<-p.errors[i]
	}
	p.terminated = true
}
