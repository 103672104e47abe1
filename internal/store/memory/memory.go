// Package memory implements the store ports on in-process maps. It mirrors
// the postgres implementation's semantics, including conditional transitions
// and single-claim arbitration, and exists to back tests.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkwelldata/docpipe/internal/models"
	"github.com/inkwelldata/docpipe/internal/store"
)

type vectorKey struct {
	chunkID uuid.UUID
	model   string
	version string
}

// Backend holds all tables behind one mutex, matching the serializable view
// a single postgres transaction sees.
type Backend struct {
	mu sync.Mutex

	documents map[uuid.UUID]models.Document
	jobs      map[uuid.UUID]models.UploadJob
	events    []models.Event

	chunkBuffer  map[uuid.UUID]models.Chunk
	chunks       map[uuid.UUID]models.Chunk
	vectorBuffer map[vectorKey]models.VectorEmbedding
	vectors      map[vectorKey]models.VectorEmbedding

	// PromoteErr, when set, fails the next promotion before any row moves.
	// Tests use it to verify promotion is all-or-nothing.
	PromoteErr error
}

// New builds a memory-backed store bundle sharing one Backend.
func New() (*store.Store, *Backend) {
	b := &Backend{
		documents:    make(map[uuid.UUID]models.Document),
		jobs:         make(map[uuid.UUID]models.UploadJob),
		chunkBuffer:  make(map[uuid.UUID]models.Chunk),
		chunks:       make(map[uuid.UUID]models.Chunk),
		vectorBuffer: make(map[vectorKey]models.VectorEmbedding),
		vectors:      make(map[vectorKey]models.VectorEmbedding),
	}
	return &store.Store{
		Documents: &DocumentStore{b: b},
		Jobs:      &JobStore{b: b},
		Chunks:    &ChunkStore{b: b},
		Events:    &EventStore{b: b},
	}, b
}

// Job returns a copy of the stored job for test assertions.
func (b *Backend) Job(id uuid.UUID) (models.UploadJob, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	return j, ok
}

// Events returns a copy of every appended event.
func (b *Backend) Events() []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Event, len(b.events))
	copy(out, b.events)
	return out
}

type DocumentStore struct {
	b *Backend
}

func (s *DocumentStore) Create(ctx context.Context, doc *models.Document) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.b.documents[doc.ID]; ok {
		existing.UpdatedAt = now
		s.b.documents[doc.ID] = existing
		doc.CreatedAt = existing.CreatedAt
		doc.UpdatedAt = now
		return nil
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now
	s.b.documents[doc.ID] = *doc
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	d, ok := s.b.documents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (s *DocumentStore) SetParsed(ctx context.Context, id uuid.UUID, parsedPath, parseContentHash string) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	d, ok := s.b.documents[id]
	if !ok {
		return store.ErrNotFound
	}
	d.ParsedPath = &parsedPath
	d.ParseContentHash = &parseContentHash
	d.UpdatedAt = time.Now().UTC()
	s.b.documents[id] = d
	return nil
}

func (s *DocumentStore) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	d, ok := s.b.documents[id]
	if !ok {
		return store.ErrNotFound
	}
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	s.b.documents[id] = d
	return nil
}

func (s *DocumentStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Document, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	var docs []models.Document
	for _, d := range s.b.documents {
		if d.UserID == userID {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })
	if offset >= len(docs) {
		return nil, nil
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs, nil
}

type JobStore struct {
	b *Backend
}

func (s *JobStore) Create(ctx context.Context, job *models.UploadJob, ev models.Event) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.NotBefore.IsZero() {
		job.NotBefore = now
	}
	s.b.jobs[job.ID] = *job
	s.b.events = append(s.b.events, ev)
	return nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*models.UploadJob, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	j, ok := s.b.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &j, nil
}

func (s *JobStore) GetActiveByDocument(ctx context.Context, documentID uuid.UUID) (*models.UploadJob, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	for _, j := range s.b.jobs {
		if j.DocumentID == documentID && !j.Status.Terminal() {
			job := j
			return &job, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *JobStore) ClaimNext(ctx context.Context, workerID string, claimable []models.JobStatus) (*models.UploadJob, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	now := time.Now().UTC()
	var candidate *models.UploadJob
	for id := range s.b.jobs {
		j := s.b.jobs[id]
		if j.ClaimedBy != nil || j.NotBefore.After(now) {
			continue
		}
		eligible := false
		for _, st := range claimable {
			if j.Status == st {
				eligible = true
				break
			}
		}
		if !eligible {
			continue
		}
		if candidate == nil || j.NotBefore.Before(candidate.NotBefore) {
			job := j
			candidate = &job
		}
	}
	if candidate == nil {
		return nil, store.ErrNoClaimableJob
	}

	candidate.ClaimedBy = &workerID
	candidate.ClaimedAt = &now
	candidate.UpdatedAt = now
	s.b.jobs[candidate.ID] = *candidate
	return candidate, nil
}

func (s *JobStore) Release(ctx context.Context, jobID uuid.UUID, workerID string) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	j, ok := s.b.jobs[jobID]
	if !ok || j.ClaimedBy == nil || *j.ClaimedBy != workerID {
		return nil
	}
	j.ClaimedBy = nil
	j.ClaimedAt = nil
	j.UpdatedAt = time.Now().UTC()
	s.b.jobs[jobID] = j
	return nil
}

func (s *JobStore) Apply(ctx context.Context, t store.Transition) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	j, ok := s.b.jobs[t.JobID]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != t.From {
		return store.ErrStateConflict
	}

	now := time.Now().UTC()
	j.Status = t.To
	if t.RetryCount != nil {
		j.RetryCount = *t.RetryCount
	}
	if t.LastError != nil {
		j.LastError = t.LastError
	}
	if t.NotBefore != nil {
		j.NotBefore = *t.NotBefore
	} else {
		j.NotBefore = now
	}
	if t.Progress != nil {
		raw, _ := json.Marshal(t.Progress)
		j.Progress = raw
	}
	j.ClaimedBy = nil
	j.ClaimedAt = nil
	if t.MarkStarted {
		j.ProcessingStartedAt = &now
	}
	if t.MarkCompleted {
		j.ProcessingCompletedAt = &now
	}
	j.UpdatedAt = now
	s.b.jobs[t.JobID] = j

	ev := models.NewEvent(t.JobID, j.DocumentID, j.CorrelationID, t.EventType, t.Severity, t.Code, t.Payload)
	s.b.events = append(s.b.events, ev)
	return nil
}

func (s *JobStore) ListStuck(ctx context.Context, status models.JobStatus, cutoff time.Time) ([]models.UploadJob, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	var jobs []models.UploadJob
	for _, j := range s.b.jobs {
		if j.Status == status && j.UpdatedAt.Before(cutoff) {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

type ChunkStore struct {
	b *Backend
}

func (s *ChunkStore) StageChunks(ctx context.Context, chunks []models.Chunk) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	now := time.Now().UTC()
	for _, c := range chunks {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		s.b.chunkBuffer[c.ID] = c
	}
	return nil
}

func (s *ChunkStore) PromoteChunks(ctx context.Context, documentID uuid.UUID) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if s.b.PromoteErr != nil {
		return s.b.PromoteErr
	}
	for id, c := range s.b.chunkBuffer {
		if c.DocumentID == documentID {
			s.b.chunks[id] = c
			delete(s.b.chunkBuffer, id)
		}
	}
	return nil
}

func (s *ChunkStore) UpsertChunks(ctx context.Context, chunks []models.Chunk) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	now := time.Now().UTC()
	for _, c := range chunks {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		s.b.chunks[c.ID] = c
	}
	return nil
}

func (s *ChunkStore) ListChunks(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	var chunks []models.Chunk
	for _, c := range s.b.chunks {
		if c.DocumentID == documentID {
			chunks = append(chunks, c)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Ord < chunks[j].Ord })
	return chunks, nil
}

func (s *ChunkStore) StageVectors(ctx context.Context, vectors []models.VectorEmbedding) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	now := time.Now().UTC()
	for _, v := range vectors {
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
		s.b.vectorBuffer[vectorKey{v.ChunkID, v.EmbedModel, v.EmbedVersion}] = v
	}
	return nil
}

func (s *ChunkStore) PromoteVectors(ctx context.Context, documentID uuid.UUID) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if s.b.PromoteErr != nil {
		return s.b.PromoteErr
	}
	for k, v := range s.b.vectorBuffer {
		if v.DocumentID == documentID {
			s.b.vectors[k] = v
			delete(s.b.vectorBuffer, k)
		}
	}
	return nil
}

func (s *ChunkStore) UpsertVectors(ctx context.Context, vectors []models.VectorEmbedding) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	now := time.Now().UTC()
	for _, v := range vectors {
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
		s.b.vectors[vectorKey{v.ChunkID, v.EmbedModel, v.EmbedVersion}] = v
	}
	return nil
}

func (s *ChunkStore) ListVectors(ctx context.Context, documentID uuid.UUID) ([]models.VectorEmbedding, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	var vectors []models.VectorEmbedding
	for _, v := range s.b.vectors {
		if v.DocumentID == documentID {
			vectors = append(vectors, v)
		}
	}
	return vectors, nil
}

func (s *ChunkStore) BufferedChunkCount(ctx context.Context, documentID uuid.UUID) (int, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	n := 0
	for _, c := range s.b.chunkBuffer {
		if c.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

func (s *ChunkStore) BufferedVectorCount(ctx context.Context, documentID uuid.UUID) (int, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	n := 0
	for _, v := range s.b.vectorBuffer {
		if v.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

type EventStore struct {
	b *Backend
}

func (s *EventStore) Append(ctx context.Context, ev models.Event) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	s.b.events = append(s.b.events, ev)
	return nil
}

func (s *EventStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.Event, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	var events []models.Event
	for _, e := range s.b.events {
		if e.JobID == jobID {
			events = append(events, e)
		}
	}
	return events, nil
}
