package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkwelldata/docpipe/internal/models"
	"github.com/inkwelldata/docpipe/internal/store"
)

type JobStore struct {
	db *pgxpool.Pool
}

const jobCols = `id, document_id, status, retry_count, last_error, correlation_id,
	callback_secret, progress, claimed_by, claimed_at, not_before,
	processing_started_at, processing_completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.UploadJob, error) {
	var j models.UploadJob
	var lastErr []byte
	err := row.Scan(&j.ID, &j.DocumentID, &j.Status, &j.RetryCount, &lastErr, &j.CorrelationID,
		&j.CallbackSecret, &j.Progress, &j.ClaimedBy, &j.ClaimedAt, &j.NotBefore,
		&j.ProcessingStartedAt, &j.ProcessingCompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(lastErr) > 0 {
		var se models.StageError
		if err := json.Unmarshal(lastErr, &se); err != nil {
			return nil, fmt.Errorf("unmarshal last_error: %w", err)
		}
		j.LastError = &se
	}
	return &j, nil
}

func (s *JobStore) Create(ctx context.Context, job *models.UploadJob, ev models.Event) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO upload_jobs (id, document_id, status, correlation_id, callback_secret, not_before)
		 VALUES ($1, $2, $3, $4, $5, now())
		 RETURNING created_at, updated_at, not_before`,
		job.ID, job.DocumentID, job.Status, job.CorrelationID, job.CallbackSecret,
	).Scan(&job.CreatedAt, &job.UpdatedAt, &job.NotBefore)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	if err := appendEvent(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*models.UploadJob, error) {
	job, err := scanJob(s.db.QueryRow(ctx,
		`SELECT `+jobCols+` FROM upload_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *JobStore) GetActiveByDocument(ctx context.Context, documentID uuid.UUID) (*models.UploadJob, error) {
	job, err := scanJob(s.db.QueryRow(ctx,
		`SELECT `+jobCols+` FROM upload_jobs
		 WHERE document_id = $1
		   AND status NOT IN ('complete', 'failed_parse', 'failed_chunking', 'failed_embedding')`,
		documentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get active job: %w", err)
	}
	return job, nil
}

// ClaimNext relies on FOR UPDATE SKIP LOCKED so that concurrent claimers
// never block each other and never claim the same row.
func (s *JobStore) ClaimNext(ctx context.Context, workerID string, claimable []models.JobStatus) (*models.UploadJob, error) {
	statuses := make([]string, len(claimable))
	for i, st := range claimable {
		statuses[i] = string(st)
	}

	job, err := scanJob(s.db.QueryRow(ctx,
		`UPDATE upload_jobs SET claimed_by = $1, claimed_at = now(), updated_at = now()
		 WHERE id = (
			SELECT id FROM upload_jobs
			WHERE status = ANY($2) AND claimed_by IS NULL AND not_before <= now()
			ORDER BY not_before
			LIMIT 1
			FOR UPDATE SKIP LOCKED)
		 RETURNING `+jobCols,
		workerID, statuses))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNoClaimableJob
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (s *JobStore) Release(ctx context.Context, jobID uuid.UUID, workerID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE upload_jobs SET claimed_by = NULL, claimed_at = NULL, updated_at = now()
		 WHERE id = $1 AND claimed_by = $2`,
		jobID, workerID,
	)
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	return nil
}

// Apply performs the conditional status update and the event append in one
// transaction. A job is never observed in a state without its event.
func (s *JobStore) Apply(ctx context.Context, t store.Transition) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var lastErr []byte
	if t.LastError != nil {
		lastErr, err = json.Marshal(t.LastError)
		if err != nil {
			return fmt.Errorf("marshal last_error: %w", err)
		}
	}
	var progress []byte
	if t.Progress != nil {
		progress, err = json.Marshal(t.Progress)
		if err != nil {
			return fmt.Errorf("marshal progress: %w", err)
		}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE upload_jobs SET
			status = $1,
			retry_count = COALESCE($2, retry_count),
			last_error = COALESCE($3, last_error),
			not_before = COALESCE($4, now()),
			progress = COALESCE($5, progress),
			claimed_by = NULL,
			claimed_at = NULL,
			processing_started_at = CASE WHEN $6 THEN now() ELSE processing_started_at END,
			processing_completed_at = CASE WHEN $7 THEN now() ELSE processing_completed_at END,
			updated_at = now()
		 WHERE id = $8 AND status = $9`,
		t.To, t.RetryCount, lastErr, t.NotBefore, progress,
		t.MarkStarted, t.MarkCompleted, t.JobID, t.From,
	)
	if err != nil {
		return fmt.Errorf("transition job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM upload_jobs WHERE id = $1)`, t.JobID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check job: %w", err)
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrStateConflict
	}

	var docID, corrID uuid.UUID
	if err := tx.QueryRow(ctx,
		`SELECT document_id, correlation_id FROM upload_jobs WHERE id = $1`, t.JobID,
	).Scan(&docID, &corrID); err != nil {
		return fmt.Errorf("read job identity: %w", err)
	}

	ev := models.NewEvent(t.JobID, docID, corrID, t.EventType, t.Severity, t.Code, t.Payload)
	if err := appendEvent(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *JobStore) ListStuck(ctx context.Context, status models.JobStatus, cutoff time.Time) ([]models.UploadJob, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+jobCols+` FROM upload_jobs WHERE status = $1 AND updated_at < $2`,
		status, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.UploadJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
