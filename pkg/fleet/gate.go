package fleet

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate bounds how many host sessions are open at the same time.
type Gate struct {
	sem  *semaphore.Weighted
	size int
}

func NewGate(size int) *Gate {
	if size < 1 {
		size = 1
	}
	return &Gate{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
	}
}

// Acquire blocks until a permit is free or ctx is done. Every successful
// Acquire must be paired with exactly one Release.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

func (g *Gate) Release() {
	g.sem.Release(1)
}

func (g *Gate) Size() int {
	return g.size
}
