// Package limiter bounds how many heavy pipeline stages run at once so the
// process does not oversubscribe CPU and the model provider under load.
package limiter

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Limiter admits at most N tasks concurrently. Excess callers queue in FIFO
// order (semaphore.Weighted wakes waiters in arrival order) and start as
// running slots free up.
type Limiter struct {
	sem *semaphore.Weighted
}

func New(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{
		sem: semaphore.NewWeighted(int64(n)),
	}
}

// Do runs task once a slot is free and returns its error unchanged. If ctx is
// done before a slot frees up, the task never starts and the context error is
// returned.
func (l *Limiter) Do(ctx context.Context, task func() error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire limiter slot: %w", err)
	}
	defer l.sem.Release(1)
	return task()
}
