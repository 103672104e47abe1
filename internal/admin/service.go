// Package admin holds operator recovery actions, shared by the HTTP admin
// surface and the pipectl CLI.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/inkwelldata/docpipe/internal/models"
	"github.com/inkwelldata/docpipe/internal/queue"
	"github.com/inkwelldata/docpipe/internal/store"
)

var ErrNotRetryable = errors.New("job is not in a failed state")

type Service struct {
	store  *store.Store
	nudger queue.Nudger
	logger *slog.Logger
}

func NewService(st *store.Store, nudger queue.Nudger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, nudger: nudger, logger: logger}
}

// RetryJob sends a terminally failed job back to the start of its failed
// stage with a fresh retry budget.
func (s *Service) RetryJob(ctx context.Context, jobID uuid.UUID) (*models.UploadJob, error) {
	job, err := s.store.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case models.StatusFailedParse, models.StatusFailedChunking, models.StatusFailedEmbedding:
	default:
		return nil, fmt.Errorf("%w: status is %s", ErrNotRetryable, job.Status)
	}

	zero := 0
	target := models.RetryTarget(job.Status)
	err = s.store.Jobs.Apply(ctx, store.Transition{
		JobID: job.ID, From: job.Status, To: target,
		EventType: models.EventRetry, Severity: models.SeverityInfo, Code: "manual_retry",
		Payload:    map[string]any{"from": string(job.Status), "to": string(target)},
		RetryCount: &zero,
	})
	if err != nil {
		return nil, err
	}

	if derr := s.store.Documents.SetStatus(ctx, job.DocumentID, models.DocStatusProcessing); derr != nil {
		s.logger.Warn("mark document processing", "document_id", job.DocumentID, "error", derr)
	}

	s.nudger.Nudge(ctx, job.ID, 0)
	s.logger.Info("job retried manually", "job_id", job.ID, "from", job.Status, "to", target)
	return s.store.Jobs.Get(ctx, job.ID)
}

// RetryStuck releases and requeues every job that has sat in an in-flight
// status for longer than olderThan. It complements the background sweeper
// for cases where an operator wants to force a pass immediately.
func (s *Service) RetryStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	total := 0

	targets := []struct {
		status models.JobStatus
		stage  models.Stage
	}{
		{models.StatusParseQueued, models.StageParse},
		{models.StatusChunking, models.StageChunk},
		{models.StatusEmbeddingInProgress, models.StageEmbed},
	}

	for _, t := range targets {
		jobs, err := s.store.Jobs.ListStuck(ctx, t.status, cutoff)
		if err != nil {
			return total, fmt.Errorf("list stuck %s: %w", t.status, err)
		}
		for _, job := range jobs {
			attempts := job.RetryCount + 1
			target := models.RetryTarget(job.Status)
			err := s.store.Jobs.Apply(ctx, store.Transition{
				JobID: job.ID, From: job.Status, To: target,
				EventType: models.EventRetry, Severity: models.SeverityWarn, Code: "admin_retry_stuck",
				Payload: map[string]any{
					"from":        string(job.Status),
					"to":          string(target),
					"stuck_since": job.UpdatedAt.Format(time.RFC3339),
				},
				RetryCount: &attempts,
			})
			if err != nil {
				s.logger.Warn("retry stuck job", "job_id", job.ID, "status", job.Status, "error", err)
				continue
			}
			s.nudger.Nudge(ctx, job.ID, 0)
			total++
		}
	}

	if total > 0 {
		s.logger.Info("stuck jobs requeued", "count", total, "older_than", olderThan)
	}
	return total, nil
}
