package files

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicledger/internal/config"
)

// fakeS3 serves path-style Put/Get/Delete from memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(req.URL.Path, "/")
	respond := func(code int, body string) *http.Response {
		return &http.Response{
			StatusCode: code,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     http.Header{"Content-Type": {"application/xml"}},
			Request:    req,
		}
	}

	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		f.objects[key] = body
		return respond(http.StatusOK, ""), nil
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, `<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`), nil
		}
		resp := respond(http.StatusOK, "")
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resp.Header = http.Header{"Content-Type": {"text/csv"}}
		return resp, nil
	case http.MethodDelete:
		delete(f.objects, key)
		return respond(http.StatusNoContent, ""), nil
	}
	return respond(http.StatusNotImplemented, ""), nil
}

func newFakeS3Store(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte)}
	store, err := NewS3Store(context.Background(), config.S3Config{
		Bucket:          "staging",
		Region:          "us-east-1",
		Endpoint:        "https://s3.test.local",
		Prefix:          "clinicledger",
		UsePathStyle:    true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
	}, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: fake}
	})
	require.NoError(t, err)
	return store, fake
}

func TestS3Store_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, fake := newFakeS3Store(t)

	f, err := Stage(ctx, store, "u9", 0, "katy.csv", "text/csv", []byte("x,y\n"))
	require.NoError(t, err)
	assert.Contains(t, fake.objects, "staging/clinicledger/uploads/u9/000-katy.csv")

	got, err := store.Get(ctx, f.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, "x,y\n", string(got))

	require.NoError(t, store.Delete(ctx, f.StorageKey))
	_, err = store.Get(ctx, f.StorageKey)
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), config.S3Config{})
	assert.Error(t, err)
}
