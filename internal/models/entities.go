package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DocStatus mirrors the coarse document lifecycle surfaced to collaborators.
const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusReady      = "ready"
	DocStatusFailed     = "failed"
)

// Document is one uploaded file. Its ID is a pure function of
// (user_id, content_hash), so re-uploading identical bytes never creates a
// second row.
type Document struct {
	ID               uuid.UUID `json:"id" db:"id"`
	UserID           string    `json:"user_id" db:"user_id"`
	Filename         string    `json:"filename" db:"filename"`
	MimeType         string    `json:"mime_type" db:"mime_type"`
	ByteSize         int64     `json:"byte_size" db:"byte_size"`
	ContentHash      string    `json:"content_hash" db:"content_hash"`
	RawPath          string    `json:"raw_path" db:"raw_path"`
	ParsedPath       *string   `json:"parsed_path,omitempty" db:"parsed_path"`
	ParseContentHash *string   `json:"parse_content_hash,omitempty" db:"parse_content_hash"`
	Status           string    `json:"status" db:"status"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Chunk is a unit of parsed text with a stable ordinal position. The same
// document chunked by the same chunker version reproduces identical IDs.
type Chunk struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	DocumentID     uuid.UUID       `json:"document_id" db:"document_id"`
	Ord            int             `json:"chunk_ord" db:"chunk_ord"`
	Text           string          `json:"text" db:"text"`
	ChunkerName    string          `json:"chunker_name" db:"chunker_name"`
	ChunkerVersion string          `json:"chunker_version" db:"chunker_version"`
	ContentHash    string          `json:"content_hash" db:"content_hash"`
	Metadata       json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// VectorEmbedding is the embedding of one chunk under one (model, version)
// pair. The composite identity lets embedding generations coexist per chunk
// during model migration.
type VectorEmbedding struct {
	ChunkID      uuid.UUID `json:"chunk_id" db:"chunk_id"`
	DocumentID   uuid.UUID `json:"document_id" db:"document_id"`
	EmbedModel   string    `json:"embed_model" db:"embed_model"`
	EmbedVersion string    `json:"embed_version" db:"embed_version"`
	Vector       []float32 `json:"-" db:"vector"`
	VectorHash   string    `json:"vector_hash" db:"vector_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
