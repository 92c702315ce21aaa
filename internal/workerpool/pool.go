// Package workerpool bounds blocking local work (disk reads, CPU-heavy
// transforms) so request tasks never fan out unbounded goroutines for it.
// Network I/O does not come through here — transports carry their own
// deadlines and concurrency is bounded where it matters.
package workerpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool is a semaphore-bounded runner. The zero value is not usable; use New.
type Pool struct {
	sem *semaphore.Weighted
}

// New builds a pool with the given worker bound (default 10).
func New(size int) *Pool {
	if size <= 0 {
		size = 10
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Do runs fn once a worker slot is free, blocking the caller for the
// duration. Acquisition respects ctx so a cancelled caller never queues.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
