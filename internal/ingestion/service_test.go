package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "clinicledger/internal/errors"
	"clinicledger/internal/files"
	"clinicledger/internal/operations"
	"clinicledger/internal/storage"
	"clinicledger/pkg/contracts/domain"
)

type recordingQueue struct {
	ids []string
	err error
}

func (q *recordingQueue) Enqueue(id string) error {
	q.ids = append(q.ids, id)
	return q.err
}

func TestService_BeginUpload(t *testing.T) {
	f := newFixture(t)
	queue := &recordingQueue{}
	f.service.queue = queue
	ctx := context.Background()

	upload, err := f.service.BeginUpload(ctx, []FileUpload{
		{Name: "katy.csv", Content: katyCSV("1")},
		{Name: "../cypress.xlsx", Content: []byte("PK")},
	}, " ops@clinic.test ")
	require.NoError(t, err)

	assert.Equal(t, domain.UploadStatusPending, upload.Status)
	assert.Equal(t, "ops@clinic.test", upload.UploadedBy)
	assert.Equal(t, []string{upload.ID}, queue.ids)
	require.Len(t, upload.Files, 2)
	assert.Equal(t, "uploads/"+upload.ID+"/001-cypress.xlsx", upload.Files[1].StorageKey)
	assert.NotEmpty(t, upload.Files[0].Checksum)
	assert.Equal(t, int64(2), upload.Files[1].Size)

	content, err := f.files.Get(ctx, upload.Files[0].StorageKey)
	require.NoError(t, err)
	assert.Equal(t, katyCSV("1"), content)
}

func TestService_BeginUploadRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.BeginUpload(ctx, nil, "ops")
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.service.BeginUpload(ctx, []FileUpload{{Name: "report.pdf", Content: []byte("x")}}, "ops")
	assert.True(t, apperrors.IsValidation(err))

	_, total, err := f.service.List(ctx, storage.UploadFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestService_QueueFullLeavesPending(t *testing.T) {
	f := newFixture(t)
	f.service.queue = &recordingQueue{err: operations.ErrQueueFull}

	upload, err := f.service.BeginUpload(context.Background(), []FileUpload{{Name: "katy.csv", Content: katyCSV("1")}}, "ops")
	require.NoError(t, err)

	stored, err := f.service.Get(context.Background(), upload.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadStatusPending, stored.Status)
}

func TestService_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.service.BeginUpload(ctx, []FileUpload{{Name: "short.csv", Content: []byte("a\nb")}}, "ops")
	require.NoError(t, err)
	err = f.service.Delete(ctx, pending.ID)
	assert.True(t, apperrors.TypeOf(err) == apperrors.ErrTypeConflict)

	_, err = f.service.RunNow(ctx, pending.ID, f.orch)
	require.NoError(t, err)
	_, err = f.files.Get(ctx, pending.Files[0].StorageKey)
	require.NoError(t, err, "rejected file is still staged")

	require.NoError(t, f.service.Delete(ctx, pending.ID))
	require.NoError(t, f.service.Delete(ctx, pending.ID))

	stored, err := f.service.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadStatusDeleted, stored.Status)
	_, err = f.files.Get(ctx, pending.Files[0].StorageKey)
	assert.ErrorIs(t, err, files.ErrNotExist)

	assert.True(t, apperrors.IsNotFound(f.service.Delete(ctx, "missing")))
}

func TestService_RunNowRequiresPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	upload := f.ingest(t, FileUpload{Name: "katy.csv", Content: katyCSV("1")})

	_, err := f.service.RunNow(ctx, upload.ID, f.orch)
	assert.Equal(t, apperrors.ErrTypeConflict, apperrors.TypeOf(err))
}

func TestService_VersionNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Rollback(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
	_, err = f.service.Version(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
}
