package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *CloudflareStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := NewCloudflareStore(CloudflareConfig{
		APIBaseURL:     srv.URL,
		AccountID:      "acct",
		Token:          "secret",
		CustomerDomain: "customer-abc.cloudflarestream.com",
		RequestTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return store
}

func TestNewCloudflareStoreRequiresCredentials(t *testing.T) {
	_, err := NewCloudflareStore(CloudflareConfig{CustomerDomain: "x"})
	assert.Error(t, err)
}

func TestCloudflareUploadStreamsMultipart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("video-bytes"), 0o600))

	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/accounts/acct/stream", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "video-bytes", string(data))
		assert.Equal(t, "clip.mp4", header.Filename)
		assert.Equal(t, "false", r.FormValue("requireSignedURLs"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"result":{"uid":"abc123","input":{"width":720,"height":1280},"duration":40.5,"size":11}}`))
	})

	asset, err := store.Upload(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, "abc123", asset.RemoteID)
	assert.Equal(t, "https://customer-abc.cloudflarestream.com/abc123/watch", asset.PlaybackURL)
	assert.Equal(t, "https://customer-abc.cloudflarestream.com/abc123/thumbnails/thumbnail.jpg", asset.ThumbnailURL)
	assert.Equal(t, 720, asset.Width)
	assert.Equal(t, 1280, asset.Height)
	assert.InDelta(t, 40.5, asset.Duration, 0.001)
}

func TestCloudflareUploadNon2xxIsAPIError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("v"), 0o600))

	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"errors":[{"code":10005,"message":"bad video"}]}`))
	})

	_, err := store.Upload(context.Background(), path)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "bad video")
}

func TestCloudflareUploadMissingFile(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := store.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}

func TestCloudflareDeleteAndInfo(t *testing.T) {
	var deleted bool
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/acct/stream/abc123", r.URL.Path)
		switch r.Method {
		case http.MethodDelete:
			deleted = true
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			w.Write([]byte(`{"success":true,"result":{"uid":"abc123","duration":12,"size":99}}`))
		}
	})

	require.NoError(t, store.Delete(context.Background(), "abc123"))
	assert.True(t, deleted)

	asset, err := store.Info(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(99), asset.Size)
	assert.InDelta(t, 12.0, asset.Duration, 0.001)
}

func TestCloudflareDeleteNotFound(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := store.Delete(context.Background(), "gone")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestObjectKeyKeepsExtension(t *testing.T) {
	key := objectKey("/tmp/video-123.MP4")
	assert.Regexp(t, `^videos/[0-9a-f-]{36}\.mp4$`, key)
	assert.NotEqual(t, key, objectKey("/tmp/video-123.MP4"))
}
