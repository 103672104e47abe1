package webhookrecv_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwelldata/docpipe/internal/embedder"
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

const testSecret = "cbsec_0123456789abcdef"

func newReceiver(t *testing.T) (*webhookrecv.Receiver, *store.Store, *memory.Backend) {
	t.Helper()

	st, backend := memory.New()
	sink, err := staging.New(staging.StrategyBuffered, st.Chunks)
	require.NoError(t, err)
	chk, err := chunker.New(chunker.StrategyFixed, chunker.DefaultOptions())
	require.NoError(t, err)

	nudger := queue.Nudger((*queue.Client)(nil))
	stages := orchestrator.NewStages(st, sink, storage.NewMemoryStorage(),
		parser.NewMockParser(), embedder.NewMockEmbedder("", "", 0), chk, nudger,
		orchestrator.Options{MaxRetries: 3, BackoffBase: time.Millisecond}, slog.Default())

	return webhookrecv.NewReceiver(st, stages, nudger, slog.Default()), st, backend
}

// seedJob inserts a document and a job awaiting its parse callback.
func seedJob(t *testing.T, st *store.Store, status models.JobStatus) *models.UploadJob {
	t.Helper()
	ctx := context.Background()

	doc := &models.Document{
		ID:          uuid.New(),
		UserID:      "user-1",
		Filename:    "report.pdf",
		MimeType:    "application/pdf",
		ContentHash: "abc123",
		RawPath:     "user/user-1/raw/report.pdf",
		Status:      models.DocStatusProcessing,
	}
	require.NoError(t, st.Documents.Create(ctx, doc))

	job := &models.UploadJob{
		ID:             uuid.New(),
		DocumentID:     doc.ID,
		Status:         status,
		CorrelationID:  uuid.New(),
		CallbackSecret: testSecret,
	}
	ev := models.NewEvent(job.ID, doc.ID, job.CorrelationID,
		models.EventStageStarted, models.SeverityInfo, "parse", nil)
	require.NoError(t, st.Jobs.Create(ctx, job, ev))
	return job
}

func successCallback(jobID uuid.UUID) parser.Callback {
	return parser.Callback{
		JobID:       jobID,
		Secret:      testSecret,
		Status:      parser.CallbackSucceeded,
		ParsedPath:  "user/user-1/parsed/doc.txt",
		ContentHash: "feedbeef",
		PageCount:   3,
	}
}

func TestCallbackUnknownJob(t *testing.T) {
	r, _, backend := newReceiver(t)

	err := r.HandleParseCallback(context.Background(), successCallback(uuid.New()))
	assert.ErrorIs(t, err, webhookrecv.ErrUnknownJob)

	events := backend.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventError, events[0].Type)
	assert.Equal(t, "callback_rejected", events[0].Code)
}

func TestCallbackSecretMismatch(t *testing.T) {
	r, st, backend := newReceiver(t)
	job := seedJob(t, st, models.StatusParseQueued)

	cb := successCallback(job.ID)
	cb.Secret = "cbsec_wrong"
	err := r.HandleParseCallback(context.Background(), cb)
	assert.ErrorIs(t, err, webhookrecv.ErrSecretMismatch)

	got, _ := backend.Job(job.ID)
	assert.Equal(t, models.StatusParseQueued, got.Status, "a rejected callback never touches the job")

	last := backend.Events()[len(backend.Events())-1]
	assert.Equal(t, "callback_rejected", last.Code)
}

func TestCallbackWrongState(t *testing.T) {
	r, st, _ := newReceiver(t)
	job := seedJob(t, st, models.StatusChunking)

	err := r.HandleParseCallback(context.Background(), successCallback(job.ID))
	assert.ErrorIs(t, err, webhookrecv.ErrWrongState)
}

func TestCallbackSuccessAdvancesJob(t *testing.T) {
	r, st, backend := newReceiver(t)
	job := seedJob(t, st, models.StatusParseQueued)
	ctx := context.Background()

	cb := successCallback(job.ID)
	require.NoError(t, r.HandleParseCallback(ctx, cb))

	got, _ := backend.Job(job.ID)
	assert.Equal(t, models.StatusParsed, got.Status)

	doc, err := st.Documents.Get(ctx, job.DocumentID)
	require.NoError(t, err)
	require.NotNil(t, doc.ParsedPath)
	assert.Equal(t, cb.ParsedPath, *doc.ParsedPath)
	require.NotNil(t, doc.ParseContentHash)
	assert.Equal(t, cb.ContentHash, *doc.ParseContentHash)

	events, err := st.Events.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, models.EventStageDone, last.Type)
	assert.Equal(t, "parse", last.Code)
}

func TestCallbackDuplicateSuccessRejected(t *testing.T) {
	r, st, _ := newReceiver(t)
	job := seedJob(t, st, models.StatusParseQueued)
	ctx := context.Background()

	require.NoError(t, r.HandleParseCallback(ctx, successCallback(job.ID)))

	err := r.HandleParseCallback(ctx, successCallback(job.ID))
	assert.ErrorIs(t, err, webhookrecv.ErrWrongState)
}

func TestCallbackFailureRetriesWithBackoff(t *testing.T) {
	r, st, backend := newReceiver(t)
	job := seedJob(t, st, models.StatusParseQueued)

	err := r.HandleParseCallback(context.Background(), parser.Callback{
		JobID:  job.ID,
		Secret: testSecret,
		Status: parser.CallbackFailed,
		Error:  "ocr backend crashed",
	})
	require.NoError(t, err)

	got, _ := backend.Job(job.ID)
	assert.Equal(t, models.StatusUploaded, got.Status, "failed parse retries from the stage start")
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.LastError)
	assert.Equal(t, models.ErrKindTransient, got.LastError.Kind)
	assert.Contains(t, got.LastError.Message, "ocr backend crashed")
	assert.True(t, got.NotBefore.After(time.Now().UTC().Add(-time.Second)))
}

func TestCallbackSuccessWithoutArtifactFails(t *testing.T) {
	r, st, backend := newReceiver(t)
	job := seedJob(t, st, models.StatusParseQueued)

	cb := successCallback(job.ID)
	cb.ParsedPath = ""
	require.NoError(t, r.HandleParseCallback(context.Background(), cb))

	got, _ := backend.Job(job.ID)
	assert.Equal(t, models.StatusFailedParse, got.Status, "missing artifact is not retried")
	require.NotNil(t, got.LastError)
	assert.Equal(t, models.ErrKindValidation, got.LastError.Kind)
}
