// Package store defines the persistence ports of the pipeline. The postgres
// subpackage is the production implementation; the memory subpackage backs
// tests. The relational store is the single source of truth and the sole
// point of mutual exclusion between workers.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/inkwelldata/docpipe/internal/models"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNoClaimableJob = errors.New("no claimable job")
	// ErrStateConflict is returned when a conditional transition observes a
	// status other than the one it expected.
	ErrStateConflict = errors.New("job state conflict")
)

// Transition describes one atomic state-machine step: a conditional status
// update plus exactly one appended event. Implementations apply the whole
// struct in a single transaction or not at all.
type Transition struct {
	JobID uuid.UUID
	From  models.JobStatus
	To    models.JobStatus

	EventType models.EventType
	Severity  models.Severity
	Code      string
	Payload   map[string]any

	RetryCount *int
	LastError  *models.StageError
	NotBefore  *time.Time
	Progress   map[string]any

	MarkStarted   bool
	MarkCompleted bool
}

// Documents persists uploaded document records.
type Documents interface {
	Create(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id uuid.UUID) (*models.Document, error)
	SetParsed(ctx context.Context, id uuid.UUID, parsedPath, parseContentHash string) error
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Document, error)
}

// Jobs is the job ledger. Claim arbitration happens entirely here; no
// in-process lock guards job ownership.
type Jobs interface {
	// Create inserts the job and appends its creation event atomically.
	Create(ctx context.Context, job *models.UploadJob, ev models.Event) error
	Get(ctx context.Context, id uuid.UUID) (*models.UploadJob, error)
	GetActiveByDocument(ctx context.Context, documentID uuid.UUID) (*models.UploadJob, error)

	// ClaimNext atomically claims one pending job in a claimable status
	// whose not_before has passed. At most one worker ever holds a given
	// job. Returns ErrNoClaimableJob when nothing is pending.
	ClaimNext(ctx context.Context, workerID string, claimable []models.JobStatus) (*models.UploadJob, error)

	// Release clears a worker's claim without changing status.
	Release(ctx context.Context, jobID uuid.UUID, workerID string) error

	// Apply performs one transition atomically, conditioned on t.From.
	// The claim is cleared as part of the same update.
	Apply(ctx context.Context, t Transition) error

	// ListStuck returns jobs sitting in status for longer than cutoff,
	// claimed or not. Used by the sweeper and admin recovery.
	ListStuck(ctx context.Context, status models.JobStatus, cutoff time.Time) ([]models.UploadJob, error)
}

// Chunks persists chunk and embedding rows, in both buffer and final
// variants. Promotion moves a document's buffered rows into the final tables
// in one transaction.
type Chunks interface {
	StageChunks(ctx context.Context, chunks []models.Chunk) error
	PromoteChunks(ctx context.Context, documentID uuid.UUID) error
	UpsertChunks(ctx context.Context, chunks []models.Chunk) error
	ListChunks(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error)

	StageVectors(ctx context.Context, vectors []models.VectorEmbedding) error
	PromoteVectors(ctx context.Context, documentID uuid.UUID) error
	UpsertVectors(ctx context.Context, vectors []models.VectorEmbedding) error
	ListVectors(ctx context.Context, documentID uuid.UUID) ([]models.VectorEmbedding, error)

	BufferedChunkCount(ctx context.Context, documentID uuid.UUID) (int, error)
	BufferedVectorCount(ctx context.Context, documentID uuid.UUID) (int, error)
}

// Events is the append-only audit sink. Transition events ride the job
// transaction; Append exists for standalone records such as rejected
// callbacks.
type Events interface {
	Append(ctx context.Context, ev models.Event) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.Event, error)
}

// Store bundles the persistence ports.
type Store struct {
	Documents Documents
	Jobs      Jobs
	Chunks    Chunks
	Events    Events
}
