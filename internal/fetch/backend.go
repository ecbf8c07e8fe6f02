// Package fetch retrieves artifact and metadata bytes from the schemes a
// Repository's URL may use (file, http(s), s3), verifies checksums, and
// guards the on-disk local cache with per-coordinate file locking. HTTP
// retrieval and status-code error mapping are grounded on
// matzehuels-stacktower/pkg/integrations/client.go's doRequest; the s3
// backend is grounded on
// Keyhole-Koro-InsightifyCore/internal/gateway/repository/artifact/s3_store.go.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// ErrNotFound is returned when a backend can definitively say the
// requested path does not exist at that repository (HTTP 404, a missing
// file, an S3 "NoSuchKey").
var ErrNotFound = fmt.Errorf("fetch: not found")

// ErrNetwork is returned for transient failures (timeouts, 5xx, refused
// connections) that a caller may legitimately retry against the next
// repository in the chain.
var ErrNetwork = fmt.Errorf("fetch: network error")

// Backend retrieves the bytes at path (a repository-relative artifact or
// metadata path, e.g. "group/name/1.0/name-1.0.jar") from one repository.
type Backend interface {
	Get(ctx context.Context, path string) ([]byte, error)
}

// NewBackend builds the Backend appropriate for baseURL's scheme.
func NewBackend(baseURL string) (Backend, error) {
	switch {
	case strings.HasPrefix(baseURL, "file://"):
		return &fileBackend{root: strings.TrimPrefix(baseURL, "file://")}, nil
	case strings.HasPrefix(baseURL, "http://"), strings.HasPrefix(baseURL, "https://"):
		return &httpBackend{baseURL: strings.TrimSuffix(baseURL, "/"), client: http.DefaultClient}, nil
	case strings.HasPrefix(baseURL, "s3://"):
		return newS3Backend(baseURL)
	default:
		return nil, fmt.Errorf("fetch: unsupported repository scheme in %q", baseURL)
	}
}

// fileBackend reads artifacts from a local directory tree laid out in
// strict Maven-2 form, used both for genuinely local repositories and for
// a Repository.Cache's on-disk mirror.
type fileBackend struct {
	root string
}

func (b *fileBackend) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.root + "/" + path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("fetch: read %s: %w", path, err)
	}
	return data, nil
}

// httpBackend retrieves artifacts over HTTP(S), mapping response status
// codes the way matzehuels-stacktower's integrations.Client.doRequest
// does: 404 becomes ErrNotFound, everything else non-2xx becomes
// ErrNetwork so the caller can fall through to the next repository.
type httpBackend struct {
	baseURL string
	client  *http.Client
}

func (b *httpBackend) Get(ctx context.Context, path string) ([]byte, error) {
	url := b.baseURL + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s: status %d", ErrNetwork, url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, url, err)
	}
	return data, nil
}
