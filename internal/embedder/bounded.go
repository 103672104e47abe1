package embedder

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// bounded caps the number of in-flight Embed calls across all workers. The
// embedding service is the pipeline's scarcest resource; the bound keeps a
// wide worker pool from stampeding it.
type bounded struct {
	next Embedder
	sem  *semaphore.Weighted
}

func Bounded(next Embedder, maxConcurrent int) Embedder {
	return &bounded{next: next, sem: semaphore.NewWeighted(int64(maxConcurrent))}
}

func (b *bounded) Model() string   { return b.next.Model() }
func (b *bounded) Version() string { return b.next.Version() }
func (b *bounded) Dimension() int  { return b.next.Dimension() }

func (b *bounded) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer b.sem.Release(1)
	return b.next.Embed(ctx, texts)
}
