package staging

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwelldata/docpipe/internal/models"
	"github.com/inkwelldata/docpipe/internal/store/memory"
)

func TestNewUnknownStrategy(t *testing.T) {
	st, _ := memory.New()
	_, err := New("parallel", st.Chunks)
	require.Error(t, err)
}

func TestBufferedChunksInvisibleUntilCommit(t *testing.T) {
	ctx := context.Background()
	st, _ := memory.New()
	sink, err := New(StrategyBuffered, st.Chunks)
	require.NoError(t, err)

	docID := uuid.New()
	chunks := []models.Chunk{
		{ID: uuid.New(), DocumentID: docID, Ord: 0, Text: "alpha"},
		{ID: uuid.New(), DocumentID: docID, Ord: 1, Text: "beta"},
	}
	require.NoError(t, sink.WriteChunks(ctx, chunks))

	visible, err := st.Chunks.ListChunks(ctx, docID)
	require.NoError(t, err)
	assert.Empty(t, visible, "buffered rows must not be readable before commit")

	buffered, err := st.Chunks.BufferedChunkCount(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 2, buffered)

	require.NoError(t, sink.CommitChunks(ctx, docID))

	visible, err = st.Chunks.ListChunks(ctx, docID)
	require.NoError(t, err)
	require.Len(t, visible, 2)
	assert.Equal(t, "alpha", visible[0].Text)

	buffered, err = st.Chunks.BufferedChunkCount(ctx, docID)
	require.NoError(t, err)
	assert.Zero(t, buffered, "commit must drain the buffer")
}

func TestBufferedCommitFailureLeavesFinalTableUntouched(t *testing.T) {
	ctx := context.Background()
	st, backend := memory.New()
	sink, err := New(StrategyBuffered, st.Chunks)
	require.NoError(t, err)

	docID := uuid.New()
	require.NoError(t, sink.WriteChunks(ctx, []models.Chunk{
		{ID: uuid.New(), DocumentID: docID, Ord: 0, Text: "alpha"},
	}))

	backend.PromoteErr = errors.New("connection reset")
	require.Error(t, sink.CommitChunks(ctx, docID))

	visible, err := st.Chunks.ListChunks(ctx, docID)
	require.NoError(t, err)
	assert.Empty(t, visible)

	buffered, err := st.Chunks.BufferedChunkCount(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 1, buffered, "failed promotion must keep the buffer intact for retry")
}

func TestDirectChunksVisibleImmediately(t *testing.T) {
	ctx := context.Background()
	st, _ := memory.New()
	sink, err := New(StrategyDirect, st.Chunks)
	require.NoError(t, err)

	docID := uuid.New()
	id := uuid.New()
	require.NoError(t, sink.WriteChunks(ctx, []models.Chunk{
		{ID: id, DocumentID: docID, Ord: 0, Text: "alpha"},
	}))

	visible, err := st.Chunks.ListChunks(ctx, docID)
	require.NoError(t, err)
	require.Len(t, visible, 1)

	// A rerun overwrites in place instead of duplicating.
	require.NoError(t, sink.WriteChunks(ctx, []models.Chunk{
		{ID: id, DocumentID: docID, Ord: 0, Text: "alpha revised"},
	}))
	require.NoError(t, sink.CommitChunks(ctx, docID))

	visible, err = st.Chunks.ListChunks(ctx, docID)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "alpha revised", visible[0].Text)
}

func TestBufferedVectorsRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, _ := memory.New()
	sink, err := New(StrategyBuffered, st.Chunks)
	require.NoError(t, err)

	docID := uuid.New()
	vec := models.VectorEmbedding{
		ChunkID:      uuid.New(),
		DocumentID:   docID,
		EmbedModel:   "text-embedding-3-small",
		EmbedVersion: "1",
		Vector:       []float32{0.1, 0.2, 0.3},
		VectorHash:   "abc",
	}
	require.NoError(t, sink.WriteVectors(ctx, []models.VectorEmbedding{vec}))

	visible, err := st.Chunks.ListVectors(ctx, docID)
	require.NoError(t, err)
	assert.Empty(t, visible)

	require.NoError(t, sink.CommitVectors(ctx, docID))

	visible, err = st.Chunks.ListVectors(ctx, docID)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, vec.VectorHash, visible[0].VectorHash)
}
