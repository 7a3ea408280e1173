package transport

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// concurrencyCap is the C3 layer 4 global in-flight request limiter
// (spec.md §4.3, default 32).
type concurrencyCap struct {
	sem *semaphore.Weighted
}

func newConcurrencyCap(n int) *concurrencyCap {
	return &concurrencyCap{sem: semaphore.NewWeighted(int64(n))}
}

func (c *concurrencyCap) acquire(ctx context.Context) error {
	return c.sem.Acquire(ctx, 1)
}

func (c *concurrencyCap) release() {
	c.sem.Release(1)
}
