package orchestrator

import (
	"context"
	"time"

	"github.com/inkwelldata/docpipe/internal/models"
	"github.com/inkwelldata/docpipe/internal/store"
)

// Backoff returns the delay before the next attempt after the given number
// of completed retries: base doubled per retry, capped at max.
func Backoff(base, max time.Duration, retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}
	d := base
	for i := 0; i < retries; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// FailOrRetry applies the retry policy to a failed attempt. Validation
// errors fail the stage immediately. Transient errors send the job back to
// the start of its stage with a backoff until the retry budget runs out,
// after which the stage's terminal failure state is recorded.
func (s *Stages) FailOrRetry(ctx context.Context, job *models.UploadJob, stage models.Stage, kind models.ErrorKind, cause error) error {
	stageErr := &models.StageError{
		Kind:       kind,
		Stage:      stage,
		Message:    cause.Error(),
		OccurredAt: time.Now().UTC(),
	}
	attempts := job.RetryCount + 1

	if kind == models.ErrKindTransient && attempts < s.opts.MaxRetries {
		delay := Backoff(s.opts.BackoffBase, s.opts.BackoffMax, job.RetryCount)
		notBefore := time.Now().UTC().Add(delay)

		err := s.store.Jobs.Apply(ctx, store.Transition{
			JobID: job.ID, From: job.Status, To: models.RetryTarget(job.Status),
			EventType: models.EventRetry, Severity: models.SeverityWarn, Code: string(stage),
			Payload: map[string]any{
				"error":     cause.Error(),
				"attempt":   attempts,
				"retry_in":  delay.String(),
				"max_tries": s.opts.MaxRetries,
			},
			RetryCount: &attempts,
			LastError:  stageErr,
			NotBefore:  &notBefore,
		})
		if err != nil {
			return err
		}
		s.nudger.Nudge(ctx, job.ID, delay)
		s.logger.Warn("stage failed, retrying",
			"job_id", job.ID, "stage", stage, "attempt", attempts, "retry_in", delay, "error", cause)
		return nil
	}

	err := s.store.Jobs.Apply(ctx, store.Transition{
		JobID: job.ID, From: job.Status, To: models.FailureTarget(job.Status),
		EventType: models.EventError, Severity: models.SeverityError, Code: string(stage),
		Payload: map[string]any{
			"error":    cause.Error(),
			"kind":     string(kind),
			"attempts": attempts,
		},
		RetryCount:    &attempts,
		LastError:     stageErr,
		MarkCompleted: true,
	})
	if err != nil {
		return err
	}

	if derr := s.store.Documents.SetStatus(ctx, job.DocumentID, models.DocStatusFailed); derr != nil {
		s.logger.Warn("mark document failed", "document_id", job.DocumentID, "error", derr)
	}
	s.logger.Error("stage failed permanently",
		"job_id", job.ID, "stage", stage, "kind", kind, "attempts", attempts, "error", cause)
	return nil
}
