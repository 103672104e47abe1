package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwelldata/docpipe/internal/document"
	"github.com/inkwelldata/docpipe/internal/embedder"
	"github.com/inkwelldata/docpipe/internal/identity"
	"github.com/inkwelldata/docpipe/internal/models"
	"github.com/inkwelldata/docpipe/internal/orchestrator"
	"github.com/inkwelldata/docpipe/internal/parser"
	"github.com/inkwelldata/docpipe/internal/queue"
	"github.com/inkwelldata/docpipe/internal/staging"
	"github.com/inkwelldata/docpipe/internal/storage"
	"github.com/inkwelldata/docpipe/internal/store"
	"github.com/inkwelldata/docpipe/internal/store/memory"
	"github.com/inkwelldata/docpipe/internal/webhookrecv"
	"github.com/inkwelldata/docpipe/pkg/chunker"
)

type env struct {
	store    *store.Store
	backend  *memory.Backend
	blobs    *storage.MemoryStorage
	parser   *parser.MockParser
	embedder *embedder.MockEmbedder
	stages   *orchestrator.Stages
	receiver *webhookrecv.Receiver
	docs     *document.Service
}

func newEnv(t *testing.T, opts orchestrator.Options) *env {
	t.Helper()

	st, backend := memory.New()
	blobs := storage.NewMemoryStorage()
	sink, err := staging.New(staging.StrategyBuffered, st.Chunks)
	require.NoError(t, err)
	chk, err := chunker.New(chunker.StrategyRecursive, chunker.Options{ChunkSize: 40, Version: "1"})
	require.NoError(t, err)

	mockParser := parser.NewMockParser()
	mockEmb := embedder.NewMockEmbedder("mock-embed", "1", 8)
	nudger := queue.Nudger((*queue.Client)(nil))

	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = time.Millisecond
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 5 * time.Millisecond
	}
	if opts.CallbackBaseURL == "" {
		opts.CallbackBaseURL = "http://localhost:8080"
	}

	stages := orchestrator.NewStages(st, sink, blobs, mockParser, mockEmb, chk, nudger, opts, slog.Default())
	receiver := webhookrecv.NewReceiver(st, stages, nudger, slog.Default())
	docs := document.NewService(st, blobs, nudger, slog.Default())

	return &env{
		store: st, backend: backend, blobs: blobs,
		parser: mockParser, embedder: mockEmb,
		stages: stages, receiver: receiver, docs: docs,
	}
}

func (e *env) upload(t *testing.T, text string) *document.UploadResult {
	t.Helper()
	res, err := e.docs.AcceptUpload(context.Background(), "user-1", "notes.txt", "text/plain", []byte(text))
	require.NoError(t, err)
	return res
}

// step claims the next ready job and runs its stage.
func (e *env) step(t *testing.T) bool {
	t.Helper()
	ctx := context.Background()
	job, err := e.store.Jobs.ClaimNext(ctx, "test-worker", models.ClaimableStatuses())
	if errors.Is(err, store.ErrNoClaimableJob) {
		return false
	}
	require.NoError(t, err)
	require.NoError(t, e.stages.Handle(ctx, job))
	return true
}

// deliverParse writes the parsed artifact and plays the success callback.
func (e *env) deliverParse(t *testing.T, jobID uuid.UUID, text string) {
	t.Helper()
	ctx := context.Background()

	subs := e.parser.Submissions()
	require.NotEmpty(t, subs)
	sub := subs[len(subs)-1]
	require.Equal(t, jobID, sub.JobID)

	require.NoError(t, e.blobs.Put(ctx, sub.ParsedPath, strings.NewReader(text), "text/plain"))
	require.NoError(t, e.receiver.HandleParseCallback(ctx, parser.Callback{
		JobID:       jobID,
		Secret:      sub.CallbackSecret,
		Status:      parser.CallbackSucceeded,
		ParsedPath:  sub.ParsedPath,
		ContentHash: identity.ContentHash([]byte(text)),
		PageCount:   1,
	}))
}

func TestHappyPathToComplete(t *testing.T) {
	e := newEnv(t, orchestrator.Options{})
	ctx := context.Background()

	parsedText := "first paragraph of the document\n\nsecond paragraph with more words\n\nthird one"
	res := e.upload(t, "raw upload bytes")
	jobID := res.Job.ID

	require.True(t, e.step(t), "worker should claim the uploaded job")
	job, _ := e.backend.Job(jobID)
	assert.Equal(t, models.StatusParseQueued, job.Status)
	assert.NotNil(t, job.ProcessingStartedAt)

	e.deliverParse(t, jobID, parsedText)
	job, _ = e.backend.Job(jobID)
	assert.Equal(t, models.StatusParsed, job.Status)

	// parsed -> parse_validated -> chunks_stored -> embedding_queued ->
	// embeddings_stored -> complete, one claim per stage.
	for e.step(t) {
	}

	job, _ = e.backend.Job(jobID)
	assert.Equal(t, models.StatusComplete, job.Status)
	assert.NotNil(t, job.ProcessingCompletedAt)
	assert.Zero(t, job.RetryCount)

	doc, err := e.store.Documents.Get(ctx, res.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusReady, doc.Status)

	chunks, err := e.store.Chunks.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.Ord)
		assert.Equal(t, identity.ChunkID(doc.ID, "recursive", "1", i), c.ID)
	}

	vectors, err := e.store.Chunks.ListVectors(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, vectors, len(chunks))
	for _, v := range vectors {
		assert.Len(t, v.Vector, 8)
		assert.Equal(t, "mock-embed", v.EmbedModel)
		assert.Equal(t, identity.VectorHash(v.Vector), v.VectorHash)
	}

	// The event trail covers every hop in order.
	events, err := e.store.Events.ListByJob(ctx, jobID)
	require.NoError(t, err)
	var codes []string
	for _, ev := range events {
		codes = append(codes, string(ev.Type)+"/"+ev.Code)
	}
	assert.Equal(t, []string{
		"stage_done/uploaded",
		"stage_started/parse",
		"stage_done/parse",
		"stage_done/parse_validated",
		"stage_started/chunk",
		"stage_done/chunk",
		"stage_started/embed",
		"stage_started/embedding",
		"stage_done/embed",
		"finalized/complete",
	}, codes)
}

func TestReuploadAfterCompleteOpensFreshJob(t *testing.T) {
	e := newEnv(t, orchestrator.Options{})

	res := e.upload(t, "stable bytes")
	require.True(t, e.step(t))
	e.deliverParse(t, res.Job.ID, "parsed body for the stable bytes upload")
	for e.step(t) {
	}
	job, _ := e.backend.Job(res.Job.ID)
	require.Equal(t, models.StatusComplete, job.Status)

	// Same bytes again: job is terminal, so a fresh job opens for the same
	// document id.
	again := e.upload(t, "stable bytes")
	assert.Equal(t, res.Document.ID, again.Document.ID)
	assert.False(t, again.Deduplicated)
	assert.NotEqual(t, res.Job.ID, again.Job.ID)
}

func TestAtMostOneClaimPerJob(t *testing.T) {
	e := newEnv(t, orchestrator.Options{})
	ctx := context.Background()

	const jobs = 20
	for i := 0; i < jobs; i++ {
		e.upload(t, fmt.Sprintf("document body %d", i))
	}

	var mu sync.Mutex
	claimed := map[uuid.UUID]int{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				job, err := e.store.Jobs.ClaimNext(ctx, fmt.Sprintf("w%d", worker), models.ClaimableStatuses())
				if err != nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestParseRetriesExhaustToFailedParse(t *testing.T) {
	e := newEnv(t, orchestrator.Options{MaxRetries: 3, BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond})
	ctx := context.Background()

	e.parser.SubmitErr = fmt.Errorf("parse service unreachable")
	res := e.upload(t, "doomed bytes")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !e.step(t) {
			job, _ := e.backend.Job(res.Job.ID)
			if job.Status.Terminal() {
				break
			}
			time.Sleep(2 * time.Millisecond) // wait out the backoff
		}
	}

	job, _ := e.backend.Job(res.Job.ID)
	assert.Equal(t, models.StatusFailedParse, job.Status)
	assert.Equal(t, 3, job.RetryCount)
	require.NotNil(t, job.LastError)
	assert.Equal(t, models.ErrKindTransient, job.LastError.Kind)
	assert.Equal(t, models.StageParse, job.LastError.Stage)

	doc, err := e.store.Documents.Get(ctx, res.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusFailed, doc.Status)

	events, err := e.store.Events.ListByJob(ctx, res.Job.ID)
	require.NoError(t, err)
	retries, failures := 0, 0
	for _, ev := range events {
		switch ev.Type {
		case models.EventRetry:
			retries++
		case models.EventError:
			failures++
		}
	}
	assert.Equal(t, 2, retries, "two retries before the third failure is terminal")
	assert.Equal(t, 1, failures)
}

func TestChunkPromotionFailureLeavesNoPartialState(t *testing.T) {
	e := newEnv(t, orchestrator.Options{MaxRetries: 5, BackoffBase: time.Millisecond})
	ctx := context.Background()

	res := e.upload(t, "bytes to chunk")
	require.True(t, e.step(t))
	e.deliverParse(t, res.Job.ID, "body that will be chunked\n\nand promoted atomically")
	require.True(t, e.step(t)) // parsed -> parse_validated

	e.backend.PromoteErr = fmt.Errorf("connection reset during promote")
	require.True(t, e.step(t)) // chunk stage fails on commit

	job, _ := e.backend.Job(res.Job.ID)
	assert.Equal(t, models.StatusParseValidated, job.Status, "failed commit sends the job back to the stage start")
	assert.Equal(t, 1, job.RetryCount)

	visible, err := e.store.Chunks.ListChunks(ctx, res.Document.ID)
	require.NoError(t, err)
	assert.Empty(t, visible, "no partial chunk batch may be visible")

	// Clear the fault; the retry rerun stages the same deterministic rows
	// and promotion succeeds.
	e.backend.PromoteErr = nil
	time.Sleep(3 * time.Millisecond)
	for e.step(t) {
	}

	job, _ = e.backend.Job(res.Job.ID)
	assert.Equal(t, models.StatusComplete, job.Status)

	visible, err = e.store.Chunks.ListChunks(ctx, res.Document.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, visible)
}

func TestValidationErrorFailsWithoutRetry(t *testing.T) {
	e := newEnv(t, orchestrator.Options{MaxRetries: 3, BackoffBase: time.Millisecond})
	ctx := context.Background()

	res := e.upload(t, "bytes")
	require.True(t, e.step(t))

	// Callback reports a hash that will not match the stored artifact.
	subs := e.parser.Submissions()
	sub := subs[len(subs)-1]
	require.NoError(t, e.blobs.Put(ctx, sub.ParsedPath, strings.NewReader("actual parsed text"), "text/plain"))
	require.NoError(t, e.receiver.HandleParseCallback(ctx, parser.Callback{
		JobID:       res.Job.ID,
		Secret:      sub.CallbackSecret,
		Status:      parser.CallbackSucceeded,
		ParsedPath:  sub.ParsedPath,
		ContentHash: identity.ContentHash([]byte("something else entirely")),
	}))

	require.True(t, e.step(t)) // validateParse sees the mismatch

	job, _ := e.backend.Job(res.Job.ID)
	assert.Equal(t, models.StatusFailedParse, job.Status)
	require.NotNil(t, job.LastError)
	assert.Equal(t, models.ErrKindValidation, job.LastError.Kind, "hash mismatch is not retried")
}

func TestSweeperRescuesStuckEmbedding(t *testing.T) {
	e := newEnv(t, orchestrator.Options{MaxRetries: 5, BackoffBase: time.Millisecond})
	ctx := context.Background()

	res := e.upload(t, "bytes for sweeping")
	require.True(t, e.step(t))
	e.deliverParse(t, res.Job.ID, "parsed text for the sweeping test\n\nwith a second paragraph")
	require.True(t, e.step(t)) // parsed -> parse_validated
	require.True(t, e.step(t)) // chunk
	require.True(t, e.step(t)) // chunks_stored -> embedding_queued

	// Simulate a worker dying mid-embed: the job enters the in-flight state
	// and nobody ever finishes it.
	require.NoError(t, e.store.Jobs.Apply(ctx, store.Transition{
		JobID: res.Job.ID, From: models.StatusEmbeddingQueued, To: models.StatusEmbeddingInProgress,
		EventType: models.EventStageStarted, Severity: models.SeverityInfo, Code: "embedding",
	}))

	time.Sleep(10 * time.Millisecond)

	sweeper := orchestrator.NewSweeper(e.stages, orchestrator.SweeperOptions{
		Interval:     time.Minute,
		StageTimeout: time.Millisecond,
		ParseTimeout: time.Minute,
	}, slog.Default())

	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, _ := e.backend.Job(res.Job.ID)
	assert.Equal(t, models.StatusEmbeddingQueued, job.Status)
	assert.Equal(t, 1, job.RetryCount)

	// The rescued job is claimable again and runs through to completion.
	time.Sleep(3 * time.Millisecond)
	for e.step(t) {
	}
	job, _ = e.backend.Job(res.Job.ID)
	assert.Equal(t, models.StatusComplete, job.Status)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	base := 30 * time.Second
	max := 15 * time.Minute

	assert.Equal(t, 30*time.Second, orchestrator.Backoff(base, max, 0))
	assert.Equal(t, time.Minute, orchestrator.Backoff(base, max, 1))
	assert.Equal(t, 2*time.Minute, orchestrator.Backoff(base, max, 2))
	assert.Equal(t, max, orchestrator.Backoff(base, max, 10))
}
