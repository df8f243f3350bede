package reactive

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Scheduler bounds how many producers execute at once. Methods on a nil
// Scheduler never block.
type Scheduler struct {
	sem  *semaphore.Weighted
	size int
}

// NewScheduler creates a Scheduler with n slots. A non-positive n uses
// GOMAXPROCS.
func NewScheduler(n int) *Scheduler {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return &Scheduler{sem: semaphore.NewWeighted(int64(n)), size: n}
}

// Acquire waits for a free slot or for ctx to end.
func (s *Scheduler) Acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.sem.Acquire(ctx, 1)
}

// Release frees a slot taken by Acquire.
func (s *Scheduler) Release() {
	if s == nil {
		return
	}
	s.sem.Release(1)
}

// Size returns the number of slots.
func (s *Scheduler) Size() int {
	if s == nil {
		return 0
	}
	return s.size
}
