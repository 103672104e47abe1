// Package webhookrecv receives parse outcomes from the parsing service.
// Every rejection is recorded as an event before the callback is discarded,
// so an operator can reconstruct what a misbehaving caller sent.
package webhookrecv

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/inkwelldata/docpipe/internal/models"
	"github.com/inkwelldata/docpipe/internal/orchestrator"
	"github.com/inkwelldata/docpipe/internal/parser"
	"github.com/inkwelldata/docpipe/internal/queue"
	"github.com/inkwelldata/docpipe/internal/store"
)

var (
	ErrUnknownJob     = errors.New("callback for unknown job")
	ErrSecretMismatch = errors.New("callback secret mismatch")
	ErrWrongState     = errors.New("callback for job not awaiting parse")
)

type Receiver struct {
	store  *store.Store
	stages *orchestrator.Stages
	nudger queue.Nudger
	logger *slog.Logger
}

func NewReceiver(st *store.Store, stages *orchestrator.Stages, nudger queue.Nudger, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{store: st, stages: stages, nudger: nudger, logger: logger}
}

// HandleParseCallback validates and applies one parse outcome. Unknown
// jobs, bad secrets, and out-of-state deliveries are rejected with a typed
// error after an event is recorded; the job is never touched.
func (r *Receiver) HandleParseCallback(ctx context.Context, cb parser.Callback) error {
	job, err := r.store.Jobs.Get(ctx, cb.JobID)
	if errors.Is(err, store.ErrNotFound) {
		r.recordRejection(ctx, cb, nil, "unknown_job")
		return ErrUnknownJob
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(job.CallbackSecret), []byte(cb.Secret)) != 1 {
		r.recordRejection(ctx, cb, job, "secret_mismatch")
		return ErrSecretMismatch
	}

	if job.Status != models.StatusParseQueued {
		r.recordRejection(ctx, cb, job, "wrong_state")
		return ErrWrongState
	}

	switch cb.Status {
	case parser.CallbackSucceeded:
		return r.applySuccess(ctx, job, cb)
	case parser.CallbackFailed:
		cause := cb.Error
		if cause == "" {
			cause = "parse service reported failure"
		}
		return r.stages.FailOrRetry(ctx, job, models.StageParse, models.ErrKindTransient, errors.New(cause))
	default:
		r.recordRejection(ctx, cb, job, "bad_status")
		return fmt.Errorf("callback status %q is neither succeeded nor failed", cb.Status)
	}
}

func (r *Receiver) applySuccess(ctx context.Context, job *models.UploadJob, cb parser.Callback) error {
	if cb.ParsedPath == "" || cb.ContentHash == "" {
		return r.stages.FailOrRetry(ctx, job, models.StageParse, models.ErrKindValidation,
			errors.New("success callback missing parsed artifact"))
	}

	if err := r.store.Documents.SetParsed(ctx, job.DocumentID, cb.ParsedPath, cb.ContentHash); err != nil {
		return fmt.Errorf("record parsed artifact: %w", err)
	}

	err := r.store.Jobs.Apply(ctx, store.Transition{
		JobID: job.ID, From: models.StatusParseQueued, To: models.StatusParsed,
		EventType: models.EventStageDone, Severity: models.SeverityInfo, Code: "parse",
		Payload: map[string]any{"parsed_path": cb.ParsedPath, "page_count": cb.PageCount},
	})
	if errors.Is(err, store.ErrStateConflict) {
		// Duplicate delivery racing a prior success.
		r.recordRejection(ctx, cb, job, "wrong_state")
		return ErrWrongState
	}
	if err != nil {
		return err
	}

	r.nudger.Nudge(ctx, job.ID, 0)
	r.logger.Info("parse callback applied", "job_id", job.ID, "document_id", job.DocumentID)
	return nil
}

// recordRejection appends an error event describing why a callback was
// discarded. job may be nil when the callback named a job that does not
// exist; events have no job foreign key precisely so this still lands.
func (r *Receiver) recordRejection(ctx context.Context, cb parser.Callback, job *models.UploadJob, reason string) {
	var docID, corrID uuid.UUID
	if job != nil {
		docID = job.DocumentID
		corrID = job.CorrelationID
	}
	ev := models.NewEvent(cb.JobID, docID, corrID,
		models.EventError, models.SeverityWarn, "callback_rejected",
		map[string]any{"reason": reason, "callback_status": cb.Status})
	if err := r.store.Events.Append(ctx, ev); err != nil {
		r.logger.Error("record callback rejection", "job_id", cb.JobID, "reason", reason, "error", err)
	}
	r.logger.Warn("parse callback rejected", "job_id", cb.JobID, "reason", reason)
}
