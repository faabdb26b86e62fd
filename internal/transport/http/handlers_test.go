package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "clinicledger/internal/errors"
	"clinicledger/internal/files"
	"clinicledger/internal/ingestion"
	"clinicledger/internal/shared/testutil"
	"clinicledger/internal/storage"
	"clinicledger/internal/versioning"
	api "clinicledger/pkg/contracts/api/v1"
	"clinicledger/pkg/contracts/domain"
)

type stubQueue struct{ ids []string }

func (q *stubQueue) Enqueue(id string) error {
	q.ids = append(q.ids, id)
	return nil
}

type mockVersionService struct{ mock.Mock }

func (m *mockVersionService) Version(ctx context.Context, id string) (*domain.DataVersion, error) {
	args := m.Called(ctx, id)
	v, _ := args.Get(0).(*domain.DataVersion)
	return v, args.Error(1)
}

func (m *mockVersionService) Versions(ctx context.Context, filter storage.VersionFilter) ([]domain.DataVersion, int, error) {
	args := m.Called(ctx, filter)
	v, _ := args.Get(0).([]domain.DataVersion)
	return v, args.Int(1), args.Error(2)
}

func (m *mockVersionService) Rollback(ctx context.Context, versionID string) (*domain.RollbackResult, error) {
	args := m.Called(ctx, versionID)
	r, _ := args.Get(0).(*domain.RollbackResult)
	return r, args.Error(1)
}

type uploadsFixture struct {
	router  chi.Router
	store   *storage.MemoryStore
	queue   *stubQueue
	service *ingestion.Service
}

func newUploadsFixture(t *testing.T, maxBytes int64) *uploadsFixture {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	store := storage.NewMemoryStore()
	fileStore, err := files.NewManager(t.TempDir())
	require.NoError(t, err)

	queue := &stubQueue{}
	versions := versioning.NewStore(store, versioning.NewKeyLocker(), nil, logger)
	service := ingestion.NewService(store.Uploads(), fileStore, queue, versions, logger)
	handler := NewUploadsHandler(service, apperrors.NewErrorHandler(logger, false), maxBytes, logger)

	r := chi.NewRouter()
	r.Mount("/api/uploads", handler.Routes())
	return &uploadsFixture{router: r, store: store, queue: queue, service: service}
}

func multipartBody(t *testing.T, uploadedBy string, parts map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if uploadedBy != "" {
		require.NoError(t, w.WriteField("uploaded_by", uploadedBy))
	}
	for name, content := range parts {
		fw, err := w.CreateFormFile("files[]", name)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (f *uploadsFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func problemType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	s, _ := body["type"].(string)
	return s
}

func TestUploadsHandler_Create(t *testing.T) {
	f := newUploadsFixture(t, 1<<20)
	csv := testutil.NewStatement("American Pain Partners LLC - Katy", "Jan 24").
		Row("44500 · Practice Income", "1200").
		CSV()
	body, contentType := multipartBody(t, "ops@clinic.test", map[string][]byte{"katy.csv": csv})

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec := f.do(req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp api.UploadAcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.UploadStatusPending, resp.Status)
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "katy.csv", resp.Files[0].Name)
	assert.Equal(t, []string{resp.UploadID}, f.queue.ids)

	stored, err := f.store.Uploads().Get(context.Background(), resp.UploadID)
	require.NoError(t, err)
	assert.Equal(t, "ops@clinic.test", stored.UploadedBy)
}

func TestUploadsHandler_CreateRejects(t *testing.T) {
	tests := []struct {
		name       string
		uploadedBy string
		parts      map[string][]byte
		maxBytes   int64
		wantStatus int
	}{
		{"missing uploader", "", map[string][]byte{"a.csv": []byte("x")}, 1 << 20, http.StatusBadRequest},
		{"no files", "ops", nil, 1 << 20, http.StatusBadRequest},
		{"unsupported extension", "ops", map[string][]byte{"a.pdf": []byte("x")}, 1 << 20, http.StatusUnsupportedMediaType},
		{"too large", "ops", map[string][]byte{"a.csv": bytes.Repeat([]byte("x"), 4096)}, 512, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newUploadsFixture(t, tt.maxBytes)
			body, contentType := multipartBody(t, tt.uploadedBy, tt.parts)
			req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
			req.Header.Set("Content-Type", contentType)

			rec := f.do(req)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Empty(t, f.queue.ids)
		})
	}
}

func TestUploadsHandler_GetListDelete(t *testing.T) {
	f := newUploadsFixture(t, 1<<20)
	ctx := context.Background()
	upload, err := f.service.BeginUpload(ctx, []ingestion.FileUpload{{Name: "a.csv", Content: testutil.ShortCSV()}}, "ops")
	require.NoError(t, err)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/uploads/"+upload.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.UploadHistory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, upload.ID, got.ID)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/uploads?status=pending&limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list api.UploadListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, 10, list.Limit)
	require.Len(t, list.Uploads, 1)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/uploads?status=archived", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodDelete, "/api/uploads/"+upload.ID, nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	_, err = f.store.Uploads().Claim(ctx, upload.ID)
	require.NoError(t, err)
	done, err := f.store.Uploads().Get(ctx, upload.ID)
	require.NoError(t, err)
	done.Status = domain.UploadStatusFailed
	require.NoError(t, f.store.Uploads().Update(ctx, done))

	rec = f.do(httptest.NewRequest(http.MethodDelete, "/api/uploads/"+upload.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/uploads/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, problemType(t, rec), "uploads/not-found")
}

func newVersionsRouter(t *testing.T, svc VersionService) chi.Router {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	r := chi.NewRouter()
	r.Mount("/api/versions", NewVersionsHandler(svc, apperrors.NewErrorHandler(logger, false), logger).Routes())
	return r
}

func TestVersionsHandler_List(t *testing.T) {
	svc := &mockVersionService{}
	clinicID := "3f1c1a9e-8f43-4a58-9d55-6c8f1b0c2d11"
	svc.On("Versions", mock.Anything, storage.VersionFilter{ClinicID: clinicID, Year: 2024, Month: 1, Limit: storage.DefaultPageSize}).
		Return([]domain.DataVersion{{ID: "v1", ClinicID: clinicID, Year: 2024, Month: 1, Version: 1}}, 1, nil)
	router := newVersionsRouter(t, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/versions?clinic_id="+clinicID+"&year=2024&month=1", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp api.VersionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Versions, 1)
	assert.Equal(t, "v1", resp.Versions[0].ID)
	svc.AssertExpectations(t)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/versions?month=13", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVersionsHandler_Rollback(t *testing.T) {
	svc := &mockVersionService{}
	svc.On("Rollback", mock.Anything, "v1").
		Return(&domain.RollbackResult{ClinicID: "c1", ClinicName: "Katy", Year: 2024, Month: 1, Version: 1}, nil)
	svc.On("Rollback", mock.Anything, "missing").
		Return(nil, apperrors.NewNotFoundError("version", "missing"))
	svc.On("Version", mock.Anything, "broken").
		Return(nil, apperrors.NewPersistenceError("query failed", errors.New("connection reset")))
	router := newVersionsRouter(t, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/versions/v1/rollback", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.RollbackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Katy", resp.ClinicName)
	assert.Equal(t, 1, resp.Version)
	assert.False(t, resp.RolledBackAt.IsZero())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/versions/missing/rollback", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, problemType(t, rec), "versions/not-found")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/versions/broken", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	svc.AssertExpectations(t)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	errorHandler := apperrors.NewErrorHandler(logger, false)
	healthy := NewHealthHandler(map[string]Pinger{"database": storage.NewMemoryStore()}, errorHandler, logger)
	broken := NewHealthHandler(map[string]Pinger{
		"database": pingFunc(func(context.Context) error { return errors.New("dial tcp: refused") }),
	}, errorHandler, logger)

	rec := httptest.NewRecorder()
	broken.Live(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	healthy.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Checks["database"])

	rec = httptest.NewRecorder()
	broken.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "SERVICE_UNAVAILABLE", problem["error_code"])
	assert.Contains(t, problem["type"], "service-unavailable")
	details, ok := problem["details"].(map[string]any)
	require.True(t, ok, "failing checks are reported")
	assert.Equal(t, "dial tcp: refused", details["database"])
}
