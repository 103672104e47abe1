package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/inkwelldata/docpipe/internal/models"
)

type ChunkStore struct {
	db *pgxpool.Pool
}

func (s *ChunkStore) StageChunks(ctx context.Context, chunks []models.Chunk) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		_, err := tx.Exec(ctx,
			`INSERT INTO chunk_buffer (id, document_id, chunk_ord, text, chunker_name, chunker_version, content_hash, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO UPDATE SET
				text = EXCLUDED.text, content_hash = EXCLUDED.content_hash, metadata = EXCLUDED.metadata`,
			c.ID, c.DocumentID, c.Ord, c.Text, c.ChunkerName, c.ChunkerVersion, c.ContentHash, c.Metadata,
		)
		if err != nil {
			return fmt.Errorf("stage chunk %d: %w", c.Ord, err)
		}
	}
	return tx.Commit(ctx)
}

// PromoteChunks merges a document's buffered chunks into the final table and
// clears the buffer, all in one transaction. Either the final table reflects
// the complete batch and the buffer is empty, or neither happened.
func (s *ChunkStore) PromoteChunks(ctx context.Context, documentID uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO chunks (id, document_id, chunk_ord, text, chunker_name, chunker_version, content_hash, metadata, created_at)
		 SELECT id, document_id, chunk_ord, text, chunker_name, chunker_version, content_hash, metadata, created_at
		 FROM chunk_buffer WHERE document_id = $1
		 ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text, content_hash = EXCLUDED.content_hash, metadata = EXCLUDED.metadata`,
		documentID,
	)
	if err != nil {
		return fmt.Errorf("promote chunks: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chunk_buffer WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clear chunk buffer: %w", err)
	}
	return tx.Commit(ctx)
}

// UpsertChunks writes straight to the final table, keyed by the
// deterministic chunk id. Safe for single-batch rerunnable stages.
func (s *ChunkStore) UpsertChunks(ctx context.Context, chunks []models.Chunk) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		_, err := tx.Exec(ctx,
			`INSERT INTO chunks (id, document_id, chunk_ord, text, chunker_name, chunker_version, content_hash, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO UPDATE SET
				text = EXCLUDED.text, content_hash = EXCLUDED.content_hash, metadata = EXCLUDED.metadata`,
			c.ID, c.DocumentID, c.Ord, c.Text, c.ChunkerName, c.ChunkerVersion, c.ContentHash, c.Metadata,
		)
		if err != nil {
			return fmt.Errorf("upsert chunk %d: %w", c.Ord, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *ChunkStore) ListChunks(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, document_id, chunk_ord, text, chunker_name, chunker_version, content_hash, metadata, created_at
		 FROM chunks WHERE document_id = $1 ORDER BY chunk_ord`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ord, &c.Text, &c.ChunkerName, &c.ChunkerVersion,
			&c.ContentHash, &c.Metadata, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *ChunkStore) StageVectors(ctx context.Context, vectors []models.VectorEmbedding) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, v := range vectors {
		_, err := tx.Exec(ctx,
			`INSERT INTO vector_buffer (chunk_id, document_id, embed_model, embed_version, vector, vector_hash)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (chunk_id, embed_model, embed_version) DO UPDATE SET
				vector = EXCLUDED.vector, vector_hash = EXCLUDED.vector_hash`,
			v.ChunkID, v.DocumentID, v.EmbedModel, v.EmbedVersion, pgvector.NewVector(v.Vector), v.VectorHash,
		)
		if err != nil {
			return fmt.Errorf("stage vector for chunk %s: %w", v.ChunkID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *ChunkStore) PromoteVectors(ctx context.Context, documentID uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO embeddings (chunk_id, document_id, embed_model, embed_version, vector, vector_hash, created_at)
		 SELECT chunk_id, document_id, embed_model, embed_version, vector, vector_hash, created_at
		 FROM vector_buffer WHERE document_id = $1
		 ON CONFLICT (chunk_id, embed_model, embed_version) DO UPDATE SET
			vector = EXCLUDED.vector, vector_hash = EXCLUDED.vector_hash`,
		documentID,
	)
	if err != nil {
		return fmt.Errorf("promote vectors: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM vector_buffer WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clear vector buffer: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *ChunkStore) UpsertVectors(ctx context.Context, vectors []models.VectorEmbedding) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, v := range vectors {
		_, err := tx.Exec(ctx,
			`INSERT INTO embeddings (chunk_id, document_id, embed_model, embed_version, vector, vector_hash)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (chunk_id, embed_model, embed_version) DO UPDATE SET
				vector = EXCLUDED.vector, vector_hash = EXCLUDED.vector_hash`,
			v.ChunkID, v.DocumentID, v.EmbedModel, v.EmbedVersion, pgvector.NewVector(v.Vector), v.VectorHash,
		)
		if err != nil {
			return fmt.Errorf("upsert vector for chunk %s: %w", v.ChunkID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *ChunkStore) ListVectors(ctx context.Context, documentID uuid.UUID) ([]models.VectorEmbedding, error) {
	rows, err := s.db.Query(ctx,
		`SELECT chunk_id, document_id, embed_model, embed_version, vector, vector_hash, created_at
		 FROM embeddings WHERE document_id = $1`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list vectors: %w", err)
	}
	defer rows.Close()

	var vectors []models.VectorEmbedding
	for rows.Next() {
		var v models.VectorEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(&v.ChunkID, &v.DocumentID, &v.EmbedModel, &v.EmbedVersion, &vec,
			&v.VectorHash, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		v.Vector = vec.Slice()
		vectors = append(vectors, v)
	}
	return vectors, rows.Err()
}

func (s *ChunkStore) BufferedChunkCount(ctx context.Context, documentID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunk_buffer WHERE document_id = $1`, documentID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count buffered chunks: %w", err)
	}
	return n, nil
}

func (s *ChunkStore) BufferedVectorCount(ctx context.Context, documentID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM vector_buffer WHERE document_id = $1`, documentID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count buffered vectors: %w", err)
	}
	return n, nil
}
