package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates the states of an upload job's pipeline traversal.
type JobStatus string

const (
	StatusUploaded            JobStatus = "uploaded"
	StatusParseQueued         JobStatus = "parse_queued"
	StatusParsed              JobStatus = "parsed"
	StatusParseValidated      JobStatus = "parse_validated"
	StatusChunking            JobStatus = "chunking"
	StatusChunksStored        JobStatus = "chunks_stored"
	StatusEmbeddingQueued     JobStatus = "embedding_queued"
	StatusEmbeddingInProgress JobStatus = "embedding_in_progress"
	StatusEmbeddingsStored    JobStatus = "embeddings_stored"
	StatusComplete            JobStatus = "complete"
	StatusFailedParse         JobStatus = "failed_parse"
	StatusFailedChunking      JobStatus = "failed_chunking"
	StatusFailedEmbedding     JobStatus = "failed_embedding"
)

// Stage names one discrete pipeline step.
type Stage string

const (
	StageParse    Stage = "parse"
	StageChunk    Stage = "chunk"
	StageEmbed    Stage = "embed"
	StageFinalize Stage = "finalize"
)

// transitions is the closed set of legal status moves. Retry and failure
// edges are included alongside the happy path.
var transitions = map[JobStatus][]JobStatus{
	StatusUploaded:            {StatusParseQueued},
	StatusParseQueued:         {StatusParsed, StatusUploaded, StatusFailedParse},
	StatusParsed:              {StatusParseValidated, StatusUploaded, StatusFailedParse},
	StatusParseValidated:      {StatusChunking},
	StatusChunking:            {StatusChunksStored, StatusParseValidated, StatusFailedChunking},
	StatusChunksStored:        {StatusEmbeddingQueued},
	StatusEmbeddingQueued:     {StatusEmbeddingInProgress},
	StatusEmbeddingInProgress: {StatusEmbeddingsStored, StatusEmbeddingQueued, StatusFailedEmbedding},
	StatusEmbeddingsStored:    {StatusComplete},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to JobStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status ends the job's traversal.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailedParse, StatusFailedChunking, StatusFailedEmbedding:
		return true
	}
	return false
}

// StageOf maps an in-flight or queued status to the pipeline stage it
// belongs to.
func StageOf(s JobStatus) Stage {
	switch s {
	case StatusUploaded, StatusParseQueued, StatusParsed, StatusFailedParse:
		return StageParse
	case StatusParseValidated, StatusChunking, StatusChunksStored, StatusFailedChunking:
		return StageChunk
	case StatusEmbeddingQueued, StatusEmbeddingInProgress, StatusEmbeddingsStored, StatusFailedEmbedding:
		return StageEmbed
	default:
		return StageFinalize
	}
}

// RetryTarget returns the stable state at the start of the stage the given
// status belongs to. A failed stage is retried from its start, not from
// scratch.
func RetryTarget(s JobStatus) JobStatus {
	switch StageOf(s) {
	case StageParse:
		return StatusUploaded
	case StageChunk:
		return StatusParseValidated
	case StageEmbed:
		return StatusEmbeddingQueued
	default:
		return StatusEmbeddingsStored
	}
}

// FailureTarget returns the terminal failure state for the stage the given
// status belongs to.
func FailureTarget(s JobStatus) JobStatus {
	switch StageOf(s) {
	case StageChunk:
		return StatusFailedChunking
	case StageEmbed:
		return StatusFailedEmbedding
	default:
		return StatusFailedParse
	}
}

// ClaimableStatuses lists the stable states a worker may claim from.
// parse_queued is absent: it awaits an external callback, not a worker.
func ClaimableStatuses() []JobStatus {
	return []JobStatus{
		StatusUploaded,
		StatusParsed,
		StatusParseValidated,
		StatusChunksStored,
		StatusEmbeddingQueued,
		StatusEmbeddingsStored,
	}
}

// ErrorKind classifies a stage failure for retry purposes.
type ErrorKind string

const (
	ErrKindTransient  ErrorKind = "transient"  // retried with backoff
	ErrKindValidation ErrorKind = "validation" // terminal, no automatic retry
	ErrKindInternal   ErrorKind = "internal"   // job left in last stable state
)

// StageError is the structured last_error recorded on a job.
type StageError struct {
	Kind       ErrorKind `json:"kind"`
	Stage      Stage     `json:"stage"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// UploadJob tracks one document's traversal through the pipeline.
type UploadJob struct {
	ID                    uuid.UUID       `json:"id" db:"id"`
	DocumentID            uuid.UUID       `json:"document_id" db:"document_id"`
	Status                JobStatus       `json:"status" db:"status"`
	RetryCount            int             `json:"retry_count" db:"retry_count"`
	LastError             *StageError     `json:"last_error,omitempty" db:"last_error"`
	CorrelationID         uuid.UUID       `json:"correlation_id" db:"correlation_id"`
	CallbackSecret        string          `json:"-" db:"callback_secret"`
	Progress              json.RawMessage `json:"progress,omitempty" db:"progress"`
	ClaimedBy             *string         `json:"claimed_by,omitempty" db:"claimed_by"`
	ClaimedAt             *time.Time      `json:"claimed_at,omitempty" db:"claimed_at"`
	NotBefore             time.Time       `json:"not_before" db:"not_before"`
	ProcessingStartedAt   *time.Time      `json:"processing_started_at,omitempty" db:"processing_started_at"`
	ProcessingCompletedAt *time.Time      `json:"processing_completed_at,omitempty" db:"processing_completed_at"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at" db:"updated_at"`
}
