package app

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicledger/internal/config"
	"clinicledger/internal/shared/testutil"
	api "clinicledger/pkg/contracts/api/v1"
	"clinicledger/pkg/contracts/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Driver = "memory"
	cfg.Storage.Driver = "local"
	cfg.Storage.LocalDir = t.TempDir()
	cfg.Telemetry.Enabled = false
	cfg.Scheduler.Enabled = false
	cfg.Server.RateLimit.Enabled = false
	cfg.Queue.StopTimeout = 5 * time.Second
	cfg.Server.ShutdownTimeout = 5 * time.Second
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T) (*Application, *httptest.Server) {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	ctx := context.Background()

	a, err := New(ctx, testConfig(t), logger)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	go a.WebSocketHub.Run()

	srv := httptest.NewServer(a.Router)
	t.Cleanup(func() {
		srv.Close()
		assert.NoError(t, a.Stop(context.Background()))
	})
	return a, srv
}

func postUpload(t *testing.T, baseURL, name string, content []byte) api.UploadAcceptedResponse {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("uploaded_by", "ops@clinic.test"))
	fw, err := w.CreateFormFile("files[]", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	resp, err := http.Post(baseURL+"/api/uploads", w.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted api.UploadAcceptedResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	return accepted
}

func getJSON(t *testing.T, url string, dst any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dst != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp.StatusCode
}

func waitForStatus(t *testing.T, baseURL, id string) *domain.UploadHistory {
	t.Helper()
	var upload domain.UploadHistory
	require.Eventually(t, func() bool {
		if getJSON(t, baseURL+"/api/uploads/"+id, &upload) != http.StatusOK {
			return false
		}
		return upload.Status.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)
	return &upload
}

func statement(amount string) []byte {
	return testutil.NewStatement("American Pain Partners LLC - Katy", "Jan 24").
		Row("Ordinary Income/Expense").
		Row("44500 · Practice Income", amount).
		CSV()
}

func TestApplication_UploadLifecycle(t *testing.T) {
	_, srv := newTestApp(t)

	first := postUpload(t, srv.URL, "katy.csv", statement("1,200.00"))
	upload := waitForStatus(t, srv.URL, first.UploadID)
	assert.Equal(t, domain.UploadStatusCompleted, upload.Status)
	assert.Equal(t, 1, upload.RecordsProcessed)

	second := postUpload(t, srv.URL, "katy.csv", statement("1,500.00"))
	upload = waitForStatus(t, srv.URL, second.UploadID)
	assert.Equal(t, domain.UploadStatusCompleted, upload.Status)

	var versions api.VersionListResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/versions", &versions))
	require.Equal(t, 1, versions.Total)
	assert.Equal(t, 1, versions.Versions[0].Version)
	assert.Equal(t, "1200", versions.Versions[0].LineItems.Get(domain.PracticeIncome).String())

	resp, err := http.Post(srv.URL+"/api/versions/"+versions.Versions[0].ID+"/rollback", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rollback api.RollbackResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rollback))
	assert.Equal(t, "Katy", rollback.ClinicName)
	assert.Equal(t, 2024, rollback.Year)
	assert.Equal(t, 1, rollback.Month)

	var list api.UploadListResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/uploads?limit=1", &list))
	assert.Equal(t, 2, list.Total)
	assert.Len(t, list.Uploads, 1)
}

func TestApplication_Routes(t *testing.T) {
	_, srv := newTestApp(t)

	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/readyz", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/metrics", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/version", nil))

	resp, err := http.Get(srv.URL + "/api/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "json")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestApplication_RecoversInterruptedUploadsOnStart(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), logger)
	require.NoError(t, err)

	require.NoError(t, a.Store.Uploads().Create(ctx, &domain.UploadHistory{ID: "interrupted", UploadedBy: "ops", Status: domain.UploadStatusProcessing}))

	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() { assert.NoError(t, a.Stop(context.Background())) })

	upload, err := a.Service.Get(ctx, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, domain.UploadStatusFailed, upload.Status)
	require.NotEmpty(t, upload.Errors)
	assert.Equal(t, domain.UploadErrorFatal, upload.Errors[0].Kind)
}
