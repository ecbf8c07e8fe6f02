package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackend_DispatchesByScheme(t *testing.T) {
	b, err := NewBackend("file:///tmp/repo")
	require.NoError(t, err)
	assert.IsType(t, &fileBackend{}, b)

	b, err = NewBackend("https://repo.example.com")
	require.NoError(t, err)
	assert.IsType(t, &httpBackend{}, b)

	b, err = NewBackend("http://repo.example.com")
	require.NoError(t, err)
	assert.IsType(t, &httpBackend{}, b)

	_, err = NewBackend("ftp://repo.example.com")
	assert.Error(t, err)
}

func TestFileBackend_Get_ReadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "g/a/1.0"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "g/a/1.0/a-1.0.jar"), []byte("jar-bytes"), 0o644))

	b := &fileBackend{root: dir}
	data, err := b.Get(context.Background(), "g/a/1.0/a-1.0.jar")
	require.NoError(t, err)
	assert.Equal(t, []byte("jar-bytes"), data)
}

func TestFileBackend_Get_MissingReturnsErrNotFound(t *testing.T) {
	b := &fileBackend{root: t.TempDir()}
	_, err := b.Get(context.Background(), "g/a/1.0/missing.jar")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileBackend_Get_CancelledContextFailsFast(t *testing.T) {
	b := &fileBackend{root: t.TempDir()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Get(ctx, "g/a/1.0/a-1.0.jar")
	assert.Error(t, err)
}

func TestHTTPBackend_Get_SuccessfulFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("http-bytes"))
	}))
	defer srv.Close()

	b := &httpBackend{baseURL: srv.URL, client: srv.Client()}
	data, err := b.Get(context.Background(), "g/a/1.0/a-1.0.jar")
	require.NoError(t, err)
	assert.Equal(t, []byte("http-bytes"), data)
}

func TestHTTPBackend_Get_404MapsToErrNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	b := &httpBackend{baseURL: srv.URL, client: srv.Client()}
	_, err := b.Get(context.Background(), "missing.jar")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPBackend_Get_ServerErrorMapsToErrNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := &httpBackend{baseURL: srv.URL, client: srv.Client()}
	_, err := b.Get(context.Background(), "a.jar")
	assert.ErrorIs(t, err, ErrNetwork)
}
