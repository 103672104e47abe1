// Package document accepts uploads and opens pipeline jobs. Acceptance is
// idempotent: identical bytes from the same user always resolve to the same
// document, and a document never has more than one live job.
package document

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/inkwelldata/docpipe/internal/identity"
	"github.com/inkwelldata/docpipe/internal/models"
	"github.com/inkwelldata/docpipe/internal/queue"
	"github.com/inkwelldata/docpipe/internal/storage"
	"github.com/inkwelldata/docpipe/internal/store"
)

type Service struct {
	store   *store.Store
	storage storage.Storage
	nudger  queue.Nudger
	logger  *slog.Logger
}

func NewService(st *store.Store, blobs storage.Storage, nudger queue.Nudger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, storage: blobs, nudger: nudger, logger: logger}
}

// UploadResult reports what acceptance decided.
type UploadResult struct {
	Document *models.Document
	Job      *models.UploadJob
	// Deduplicated is true when the bytes matched an existing document and
	// no new job was opened.
	Deduplicated bool
}

// AcceptUpload ingests one file. The document ID is derived from the
// content, so re-uploading the same bytes converges on the same record. A
// job is opened only when the document has no live job already.
func (s *Service) AcceptUpload(ctx context.Context, userID, filename, mimeType string, data []byte) (*UploadResult, error) {
	contentHash := identity.ContentHash(data)
	docID := identity.DocumentID(userID, contentHash)

	rawPath := storage.ObjectPath(userID, storage.KindRaw, docID.String(), storage.ExtForMime(mimeType))

	doc := &models.Document{
		ID:          docID,
		UserID:      userID,
		Filename:    filename,
		MimeType:    mimeType,
		ByteSize:    int64(len(data)),
		ContentHash: contentHash,
		RawPath:     rawPath,
		Status:      models.DocStatusPending,
	}

	if existing, err := s.store.Jobs.GetActiveByDocument(ctx, docID); err == nil {
		// Same bytes, live job: nothing to do.
		d, derr := s.store.Documents.Get(ctx, docID)
		if derr != nil {
			return nil, fmt.Errorf("load document: %w", derr)
		}
		s.logger.Info("upload deduplicated against active job",
			"document_id", docID, "job_id", existing.ID, "user_id", userID)
		return &UploadResult{Document: d, Job: existing, Deduplicated: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check active job: %w", err)
	}

	if err := s.storage.Put(ctx, rawPath, bytes.NewReader(data), mimeType); err != nil {
		return nil, fmt.Errorf("store raw upload: %w", err)
	}

	if err := s.store.Documents.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	secret, err := newCallbackSecret()
	if err != nil {
		return nil, fmt.Errorf("generate callback secret: %w", err)
	}

	job := &models.UploadJob{
		ID:             uuid.New(),
		DocumentID:     docID,
		Status:         models.StatusUploaded,
		CorrelationID:  uuid.New(),
		CallbackSecret: secret,
	}
	ev := models.NewEvent(job.ID, docID, job.CorrelationID,
		models.EventStageDone, models.SeverityInfo, "uploaded",
		map[string]any{"filename": filename, "byte_size": len(data), "content_hash": contentHash})

	if err := s.store.Jobs.Create(ctx, job, ev); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.nudger.Nudge(ctx, job.ID, 0)
	s.logger.Info("upload accepted",
		"document_id", docID, "job_id", job.ID, "user_id", userID,
		"filename", filename, "byte_size", len(data))

	return &UploadResult{Document: doc, Job: job}, nil
}

// Status reports a document together with its most recent live job, if any.
func (s *Service) Status(ctx context.Context, documentID uuid.UUID) (*models.Document, *models.UploadJob, error) {
	doc, err := s.store.Documents.Get(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	job, err := s.store.Jobs.GetActiveByDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return doc, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return doc, job, nil
}

func newCallbackSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "cbsec_" + hex.EncodeToString(b), nil
}
