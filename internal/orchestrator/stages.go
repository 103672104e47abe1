// Package orchestrator drives claimed jobs through the pipeline. Workers
// claim jobs from the store, run exactly one stage, and record the outcome
// as an atomic transition. All coordination happens through the job ledger;
// workers share no in-process state.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/inkwelldata/docpipe/internal/embedder"
	"github.com/inkwelldata/docpipe/internal/identity"
	"github.com/inkwelldata/docpipe/internal/models"
	"github.com/inkwelldata/docpipe/internal/parser"
	"github.com/inkwelldata/docpipe/internal/queue"
	"github.com/inkwelldata/docpipe/internal/staging"
	"github.com/inkwelldata/docpipe/internal/storage"
	"github.com/inkwelldata/docpipe/internal/store"
	"github.com/inkwelldata/docpipe/pkg/chunker"
)

// Options carries the tunables shared by the stage handlers, pool and
// sweeper.
type Options struct {
	MaxRetries      int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	CallbackBaseURL string
}

// Stages executes one pipeline step for a claimed job.
type Stages struct {
	store    *store.Store
	sink     staging.Sink
	blobs    storage.Storage
	parser   parser.Service
	embedder embedder.Embedder
	chunker  chunker.Chunker
	nudger   queue.Nudger
	opts     Options
	logger   *slog.Logger
}

func NewStages(st *store.Store, sink staging.Sink, blobs storage.Storage, p parser.Service,
	e embedder.Embedder, c chunker.Chunker, nudger queue.Nudger, opts Options, logger *slog.Logger) *Stages {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 30 * time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 15 * time.Minute
	}
	return &Stages{
		store: st, sink: sink, blobs: blobs, parser: p,
		embedder: e, chunker: c, nudger: nudger, opts: opts, logger: logger,
	}
}

// Handle runs the stage the job's status calls for. Returning nil means the
// job reached its next stable state or a terminal one; the retry policy is
// applied internally, so handler errors never bubble past here except for
// state conflicts, which the caller treats as benign races.
func (s *Stages) Handle(ctx context.Context, job *models.UploadJob) error {
	switch job.Status {
	case models.StatusUploaded:
		return s.submitParse(ctx, job)
	case models.StatusParsed:
		return s.validateParse(ctx, job)
	case models.StatusParseValidated:
		return s.chunk(ctx, job)
	case models.StatusChunksStored:
		return s.queueEmbedding(ctx, job)
	case models.StatusEmbeddingQueued:
		return s.embed(ctx, job)
	case models.StatusEmbeddingsStored:
		return s.finalize(ctx, job)
	default:
		return fmt.Errorf("job %s claimed in unhandled status %s", job.ID, job.Status)
	}
}

// submitParse moves the job into parse_queued before contacting the parsing
// service, so a fast callback can never race the status change.
func (s *Stages) submitParse(ctx context.Context, job *models.UploadJob) error {
	doc, err := s.store.Documents.Get(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	err = s.store.Jobs.Apply(ctx, store.Transition{
		JobID: job.ID, From: models.StatusUploaded, To: models.StatusParseQueued,
		EventType: models.EventStageStarted, Severity: models.SeverityInfo, Code: "parse",
		MarkStarted: true,
	})
	if err != nil {
		return err
	}
	job.Status = models.StatusParseQueued

	if derr := s.store.Documents.SetStatus(ctx, doc.ID, models.DocStatusProcessing); derr != nil {
		s.logger.Warn("mark document processing", "document_id", doc.ID, "error", derr)
	}

	parsedPath := storage.ObjectPath(doc.UserID, storage.KindParsed, doc.ID.String(), ".txt")
	sub := parser.Submission{
		JobID:          job.ID,
		DocumentID:     doc.ID,
		RawPath:        doc.RawPath,
		ParsedPath:     parsedPath,
		MimeType:       doc.MimeType,
		CallbackURL:    fmt.Sprintf("%s/callbacks/parse/%s", s.opts.CallbackBaseURL, job.ID),
		CallbackSecret: job.CallbackSecret,
	}
	if err := s.parser.Submit(ctx, sub); err != nil {
		return s.FailOrRetry(ctx, job, models.StageParse, models.ErrKindTransient, fmt.Errorf("submit parse: %w", err))
	}

	s.logger.Info("parse submitted", "job_id", job.ID, "document_id", doc.ID)
	return nil
}

// validateParse checks the parsed artifact the callback reported: it must
// exist, be non-empty, and match the recorded content hash.
func (s *Stages) validateParse(ctx context.Context, job *models.UploadJob) error {
	doc, err := s.store.Documents.Get(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.ParsedPath == nil || doc.ParseContentHash == nil {
		return s.FailOrRetry(ctx, job, models.StageParse, models.ErrKindValidation,
			errors.New("parse callback recorded no artifact"))
	}

	text, err := s.readObject(ctx, *doc.ParsedPath)
	if err != nil {
		return s.FailOrRetry(ctx, job, models.StageParse, models.ErrKindTransient,
			fmt.Errorf("read parsed artifact: %w", err))
	}
	if len(text) == 0 {
		return s.FailOrRetry(ctx, job, models.StageParse, models.ErrKindValidation,
			errors.New("parsed artifact is empty"))
	}
	if got := identity.ContentHash(text); got != *doc.ParseContentHash {
		return s.FailOrRetry(ctx, job, models.StageParse, models.ErrKindValidation,
			fmt.Errorf("parsed artifact hash mismatch: stored %s, computed %s", *doc.ParseContentHash, got))
	}

	err = s.store.Jobs.Apply(ctx, store.Transition{
		JobID: job.ID, From: models.StatusParsed, To: models.StatusParseValidated,
		EventType: models.EventStageDone, Severity: models.SeverityInfo, Code: "parse_validated",
		Payload: map[string]any{"parsed_bytes": len(text)},
	})
	if err != nil {
		return err
	}
	s.nudger.Nudge(ctx, job.ID, 0)
	return nil
}

// chunk splits the parsed text and stages the pieces. The final table only
// reflects the batch after commit, so readers never see a partial set.
func (s *Stages) chunk(ctx context.Context, job *models.UploadJob) error {
	err := s.store.Jobs.Apply(ctx, store.Transition{
		JobID: job.ID, From: models.StatusParseValidated, To: models.StatusChunking,
		EventType: models.EventStageStarted, Severity: models.SeverityInfo, Code: "chunk",
	})
	if err != nil {
		return err
	}
	job.Status = models.StatusChunking

	doc, err := s.store.Documents.Get(ctx, job.DocumentID)
	if err != nil {
		return s.FailOrRetry(ctx, job, models.StageChunk, models.ErrKindTransient, fmt.Errorf("load document: %w", err))
	}
	if doc.ParsedPath == nil {
		return s.FailOrRetry(ctx, job, models.StageChunk, models.ErrKindValidation,
			errors.New("document has no parsed artifact"))
	}

	text, err := s.readObject(ctx, *doc.ParsedPath)
	if err != nil {
		return s.FailOrRetry(ctx, job, models.StageChunk, models.ErrKindTransient,
			fmt.Errorf("read parsed artifact: %w", err))
	}

	pieces := s.chunker.Chunk(string(text))
	if len(pieces) == 0 {
		return s.FailOrRetry(ctx, job, models.StageChunk, models.ErrKindValidation,
			errors.New("chunking produced no chunks"))
	}

	chunks := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		meta, _ := json.Marshal(map[string]any{"length": len(piece.Content)})
		chunks[i] = models.Chunk{
			ID:             identity.ChunkID(doc.ID, s.chunker.Name(), s.chunker.Version(), piece.Index),
			DocumentID:     doc.ID,
			Ord:            piece.Index,
			Text:           piece.Content,
			ChunkerName:    s.chunker.Name(),
			ChunkerVersion: s.chunker.Version(),
			ContentHash:    identity.ContentHash([]byte(piece.Content)),
			Metadata:       meta,
		}
	}

	if err := s.sink.WriteChunks(ctx, chunks); err != nil {
		return s.FailOrRetry(ctx, job, models.StageChunk, models.ErrKindTransient, fmt.Errorf("write chunks: %w", err))
	}
	if err := s.sink.CommitChunks(ctx, doc.ID); err != nil {
		return s.FailOrRetry(ctx, job, models.StageChunk, models.ErrKindTransient, fmt.Errorf("commit chunks: %w", err))
	}

	err = s.store.Jobs.Apply(ctx, store.Transition{
		JobID: job.ID, From: models.StatusChunking, To: models.StatusChunksStored,
		EventType: models.EventStageDone, Severity: models.SeverityInfo, Code: "chunk",
		Payload:  map[string]any{"chunk_count": len(chunks)},
		Progress: map[string]any{"chunks": len(chunks)},
	})
	if err != nil {
		return err
	}
	s.nudger.Nudge(ctx, job.ID, 0)
	s.logger.Info("chunks stored", "job_id", job.ID, "document_id", doc.ID, "chunks", len(chunks))
	return nil
}

func (s *Stages) queueEmbedding(ctx context.Context, job *models.UploadJob) error {
	err := s.store.Jobs.Apply(ctx, store.Transition{
		JobID: job.ID, From: models.StatusChunksStored, To: models.StatusEmbeddingQueued,
		EventType: models.EventStageStarted, Severity: models.SeverityInfo, Code: "embed",
	})
	if err != nil {
		return err
	}
	s.nudger.Nudge(ctx, job.ID, 0)
	return nil
}

// embed vectorizes the document's chunks under the current embedding
// generation and stages the vectors for atomic promotion.
func (s *Stages) embed(ctx context.Context, job *models.UploadJob) error {
	err := s.store.Jobs.Apply(ctx, store.Transition{
		JobID: job.ID, From: models.StatusEmbeddingQueued, To: models.StatusEmbeddingInProgress,
		EventType: models.EventStageStarted, Severity: models.SeverityInfo, Code: "embedding",
	})
	if err != nil {
		return err
	}
	job.Status = models.StatusEmbeddingInProgress

	chunks, err := s.store.Chunks.ListChunks(ctx, job.DocumentID)
	if err != nil {
		return s.FailOrRetry(ctx, job, models.StageEmbed, models.ErrKindTransient, fmt.Errorf("list chunks: %w", err))
	}
	if len(chunks) == 0 {
		return s.FailOrRetry(ctx, job, models.StageEmbed, models.ErrKindValidation,
			errors.New("no chunks to embed"))
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return s.FailOrRetry(ctx, job, models.StageEmbed, models.ErrKindTransient, fmt.Errorf("embed chunks: %w", err))
	}
	if len(vecs) != len(chunks) {
		return s.FailOrRetry(ctx, job, models.StageEmbed, models.ErrKindValidation,
			fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks)))
	}

	vectors := make([]models.VectorEmbedding, len(chunks))
	for i, c := range chunks {
		vectors[i] = models.VectorEmbedding{
			ChunkID:      c.ID,
			DocumentID:   c.DocumentID,
			EmbedModel:   s.embedder.Model(),
			EmbedVersion: s.embedder.Version(),
			Vector:       vecs[i],
			VectorHash:   identity.VectorHash(vecs[i]),
		}
	}

	if err := s.sink.WriteVectors(ctx, vectors); err != nil {
		return s.FailOrRetry(ctx, job, models.StageEmbed, models.ErrKindTransient, fmt.Errorf("write vectors: %w", err))
	}
	if err := s.sink.CommitVectors(ctx, job.DocumentID); err != nil {
		return s.FailOrRetry(ctx, job, models.StageEmbed, models.ErrKindTransient, fmt.Errorf("commit vectors: %w", err))
	}

	err = s.store.Jobs.Apply(ctx, store.Transition{
		JobID: job.ID, From: models.StatusEmbeddingInProgress, To: models.StatusEmbeddingsStored,
		EventType: models.EventStageDone, Severity: models.SeverityInfo, Code: "embed",
		Payload:  map[string]any{"vector_count": len(vectors), "embed_model": s.embedder.Model()},
		Progress: map[string]any{"chunks": len(chunks), "vectors": len(vectors)},
	})
	if err != nil {
		return err
	}
	s.nudger.Nudge(ctx, job.ID, 0)
	s.logger.Info("embeddings stored", "job_id", job.ID, "document_id", job.DocumentID, "vectors", len(vectors))
	return nil
}

// finalize marks the document retrievable. A store failure here leaves the
// job in embeddings_stored for another worker to pick up; the step is a pure
// status flip and rerunning it is harmless.
func (s *Stages) finalize(ctx context.Context, job *models.UploadJob) error {
	if err := s.store.Documents.SetStatus(ctx, job.DocumentID, models.DocStatusReady); err != nil {
		return fmt.Errorf("mark document ready: %w", err)
	}

	err := s.store.Jobs.Apply(ctx, store.Transition{
		JobID: job.ID, From: models.StatusEmbeddingsStored, To: models.StatusComplete,
		EventType: models.EventFinalized, Severity: models.SeverityInfo, Code: "complete",
		MarkCompleted: true,
	})
	if err != nil {
		return err
	}
	s.logger.Info("job complete", "job_id", job.ID, "document_id", job.DocumentID)
	return nil
}

func (s *Stages) readObject(ctx context.Context, path string) ([]byte, error) {
	rc, err := s.blobs.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
