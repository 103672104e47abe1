package document

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwelldata/docpipe/internal/models"
	"github.com/inkwelldata/docpipe/internal/queue"
	"github.com/inkwelldata/docpipe/internal/storage"
	"github.com/inkwelldata/docpipe/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *storage.MemoryStorage) {
	t.Helper()
	st, _ := memory.New()
	blobs := storage.NewMemoryStorage()
	svc := NewService(st, blobs, queue.Nudger((*queue.Client)(nil)), slog.Default())
	return svc, blobs
}

func TestAcceptUploadOpensJob(t *testing.T) {
	ctx := context.Background()
	svc, blobs := newTestService(t)

	res, err := svc.AcceptUpload(ctx, "user-1", "notes.txt", "text/plain", []byte("hello"))
	require.NoError(t, err)
	require.NotNil(t, res.Job)
	assert.False(t, res.Deduplicated)
	assert.Equal(t, models.StatusUploaded, res.Job.Status)
	assert.NotEmpty(t, res.Job.CallbackSecret)
	assert.NotEqual(t, res.Job.ID, res.Job.CorrelationID)

	exists, err := blobs.Exists(ctx, res.Document.RawPath)
	require.NoError(t, err)
	assert.True(t, exists, "raw bytes must land in storage before the job opens")
}

func TestAcceptUploadSameBytesDeduplicates(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	first, err := svc.AcceptUpload(ctx, "user-1", "notes.txt", "text/plain", []byte("same bytes"))
	require.NoError(t, err)

	second, err := svc.AcceptUpload(ctx, "user-1", "renamed.txt", "text/plain", []byte("same bytes"))
	require.NoError(t, err)

	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Document.ID, second.Document.ID)
	assert.Equal(t, first.Job.ID, second.Job.ID, "a live job must not be duplicated")
}

func TestAcceptUploadDifferentUsersDistinctDocuments(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	a, err := svc.AcceptUpload(ctx, "user-1", "notes.txt", "text/plain", []byte("shared bytes"))
	require.NoError(t, err)
	b, err := svc.AcceptUpload(ctx, "user-2", "notes.txt", "text/plain", []byte("shared bytes"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Document.ID, b.Document.ID, "document identity is scoped to the owner")
}

func TestStatusWithoutJob(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	res, err := svc.AcceptUpload(ctx, "user-1", "notes.txt", "text/plain", []byte("bytes"))
	require.NoError(t, err)

	doc, job, err := svc.Status(ctx, res.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Document.ID, doc.ID)
	require.NotNil(t, job)
	assert.Equal(t, res.Job.ID, job.ID)
}
