package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
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
	"github.com/inkwelldata/docpipe/internal/webhookrecv"
	"github.com/inkwelldata/docpipe/pkg/chunker"

	memstore "github.com/inkwelldata/docpipe/internal/store/memory"
)

func newCallbackRouter(t *testing.T) (*chi.Mux, *store.Store) {
	t.Helper()

	st, _ := memstore.New()
	sink, err := staging.New(staging.StrategyBuffered, st.Chunks)
	require.NoError(t, err)
	chk, err := chunker.New(chunker.StrategyFixed, chunker.DefaultOptions())
	require.NoError(t, err)

	nudger := queue.Nudger((*queue.Client)(nil))
	stages := orchestrator.NewStages(st, sink, storage.NewMemoryStorage(),
		parser.NewMockParser(), embedder.NewMockEmbedder("", "", 0), chk, nudger,
		orchestrator.Options{MaxRetries: 3, BackoffBase: time.Millisecond}, slog.Default())
	receiver := webhookrecv.NewReceiver(st, stages, nudger, slog.Default())

	mux := chi.NewRouter()
	mux.Post("/callbacks/parse/{jobID}", NewCallbackHandler(receiver).ParseCallback)
	return mux, st
}

func seedParseQueuedJob(t *testing.T, st *store.Store, secret string) *models.UploadJob {
	t.Helper()
	ctx := context.Background()

	doc := &models.Document{
		ID:       uuid.New(),
		UserID:   "user-1",
		Filename: "report.pdf",
		MimeType: "application/pdf",
		RawPath:  "user/user-1/raw/report.pdf",
		Status:   models.DocStatusProcessing,
	}
	require.NoError(t, st.Documents.Create(ctx, doc))

	job := &models.UploadJob{
		ID:             uuid.New(),
		DocumentID:     doc.ID,
		Status:         models.StatusParseQueued,
		CorrelationID:  uuid.New(),
		CallbackSecret: secret,
	}
	ev := models.NewEvent(job.ID, doc.ID, job.CorrelationID,
		models.EventStageStarted, models.SeverityInfo, "parse", nil)
	require.NoError(t, st.Jobs.Create(ctx, job, ev))
	return job
}

func postCallback(t *testing.T, mux *chi.Mux, jobID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/callbacks/parse/"+jobID, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestParseCallbackStatusCodes(t *testing.T) {
	mux, st := newCallbackRouter(t)
	job := seedParseQueuedJob(t, st, "cbsec_topsecret")

	success := `{"secret":"cbsec_topsecret","status":"succeeded","parsed_path":"user/user-1/parsed/doc.txt","content_hash":"feedbeef","page_count":3}`

	rec := postCallback(t, mux, "not-a-uuid", success)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postCallback(t, mux, uuid.NewString(), success)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = postCallback(t, mux, job.ID.String(), `{"secret":"cbsec_wrong","status":"succeeded"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postCallback(t, mux, job.ID.String(), success)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "accepted")

	// Redelivery after the job moved on.
	rec = postCallback(t, mux, job.ID.String(), success)
	assert.Equal(t, http.StatusConflict, rec.Code)

	got, err := st.Jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusParsed, got.Status)
}

func TestParseCallbackRejectsMalformedBody(t *testing.T) {
	mux, st := newCallbackRouter(t)
	job := seedParseQueuedJob(t, st, "cbsec_topsecret")

	rec := postCallback(t, mux, job.ID.String(), `{"secret":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
