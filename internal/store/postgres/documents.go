package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkwelldata/docpipe/internal/models"
	"github.com/inkwelldata/docpipe/internal/store"
)

type DocumentStore struct {
	db *pgxpool.Pool
}

const documentCols = `id, user_id, filename, mime_type, byte_size, content_hash,
	raw_path, parsed_path, parse_content_hash, status, created_at, updated_at`

func (s *DocumentStore) Create(ctx context.Context, doc *models.Document) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO documents (id, user_id, filename, mime_type, byte_size, content_hash, raw_path, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET updated_at = now()
		 RETURNING created_at, updated_at`,
		doc.ID, doc.UserID, doc.Filename, doc.MimeType, doc.ByteSize,
		doc.ContentHash, doc.RawPath, doc.Status,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var d models.Document
	err := s.db.QueryRow(ctx,
		`SELECT `+documentCols+` FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.UserID, &d.Filename, &d.MimeType, &d.ByteSize, &d.ContentHash,
		&d.RawPath, &d.ParsedPath, &d.ParseContentHash, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &d, nil
}

func (s *DocumentStore) SetParsed(ctx context.Context, id uuid.UUID, parsedPath, parseContentHash string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE documents SET parsed_path = $1, parse_content_hash = $2, updated_at = now() WHERE id = $3`,
		parsedPath, parseContentHash, id,
	)
	if err != nil {
		return fmt.Errorf("set parsed: %w", err)
	}
	return nil
}

func (s *DocumentStore) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE documents SET status = $1, updated_at = now() WHERE id = $2`, status, id,
	)
	if err != nil {
		return fmt.Errorf("set document status: %w", err)
	}
	return nil
}

func (s *DocumentStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Document, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+documentCols+` FROM documents
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.UserID, &d.Filename, &d.MimeType, &d.ByteSize, &d.ContentHash,
			&d.RawPath, &d.ParsedPath, &d.ParseContentHash, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
