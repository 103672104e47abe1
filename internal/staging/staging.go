// Package staging decides how chunk and vector rows reach their final
// tables. The buffered sink writes to buffer tables and promotes a complete
// batch in one transaction. The direct sink upserts straight to the final
// tables, leaning on deterministic row identity to stay rerunnable.
package staging

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/inkwelldata/docpipe/internal/models"
	"github.com/inkwelldata/docpipe/internal/store"
)

const (
	StrategyBuffered = "buffered"
	StrategyDirect   = "direct"
)

// Sink receives the output of the chunking and embedding stages. Write
// methods may be called repeatedly on retry; Commit methods make the batch
// visible to readers.
type Sink interface {
	WriteChunks(ctx context.Context, chunks []models.Chunk) error
	CommitChunks(ctx context.Context, documentID uuid.UUID) error
	WriteVectors(ctx context.Context, vectors []models.VectorEmbedding) error
	CommitVectors(ctx context.Context, documentID uuid.UUID) error
}

// New returns the sink for the named strategy. The strategy set is closed;
// an unknown name is a configuration error.
func New(strategy string, chunks store.Chunks) (Sink, error) {
	switch strategy {
	case StrategyBuffered:
		return &Buffered{chunks: chunks}, nil
	case StrategyDirect:
		return &Direct{chunks: chunks}, nil
	default:
		return nil, fmt.Errorf("unknown staging strategy %q", strategy)
	}
}

// Buffered stages rows in buffer tables and promotes them on commit.
// Readers never observe a partial batch.
type Buffered struct {
	chunks store.Chunks
}

func (s *Buffered) WriteChunks(ctx context.Context, chunks []models.Chunk) error {
	return s.chunks.StageChunks(ctx, chunks)
}

func (s *Buffered) CommitChunks(ctx context.Context, documentID uuid.UUID) error {
	return s.chunks.PromoteChunks(ctx, documentID)
}

func (s *Buffered) WriteVectors(ctx context.Context, vectors []models.VectorEmbedding) error {
	return s.chunks.StageVectors(ctx, vectors)
}

func (s *Buffered) CommitVectors(ctx context.Context, documentID uuid.UUID) error {
	return s.chunks.PromoteVectors(ctx, documentID)
}

// Direct upserts rows straight into the final tables. A rerun of the same
// stage overwrites rows in place because chunk and vector keys are
// deterministic. Commit is a no-op.
type Direct struct {
	chunks store.Chunks
}

func (s *Direct) WriteChunks(ctx context.Context, chunks []models.Chunk) error {
	return s.chunks.UpsertChunks(ctx, chunks)
}

func (s *Direct) CommitChunks(ctx context.Context, documentID uuid.UUID) error {
	return nil
}

func (s *Direct) WriteVectors(ctx context.Context, vectors []models.VectorEmbedding) error {
	return s.chunks.UpsertVectors(ctx, vectors)
}

func (s *Direct) CommitVectors(ctx context.Context, documentID uuid.UUID) error {
	return nil
}
