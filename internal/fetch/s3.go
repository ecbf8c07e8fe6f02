package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// s3Backend retrieves artifacts from an S3-compatible bucket, grounded on
// Keyhole-Koro-InsightifyCore's S3Store. Maven mirrors backed by S3
// buckets are common in CI fleets; a repository URL of the form
// "s3://bucket/prefix" selects this backend. Credentials come from the
// URL's "access-key" and "secret-key" query parameters, the endpoint from
// "endpoint" (default s3.amazonaws.com), and "insecure=true" disables TLS.
type s3Backend struct {
	client *minio.Client
	bucket string
	prefix string

	initOnce sync.Once
	initErr  error
}

func newS3Backend(rawURL string) (*s3Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: invalid s3 url %q: %w", rawURL, err)
	}
	endpoint := u.Query().Get("endpoint")
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	access := u.Query().Get("access-key")
	secret := u.Query().Get("secret-key")
	useSSL := u.Query().Get("insecure") != "true"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch: init s3 client: %w", err)
	}

	return &s3Backend{
		client: client,
		bucket: u.Host,
		prefix: strings.Trim(u.Path, "/"),
	}, nil
}

func (b *s3Backend) ensureBucket(ctx context.Context) error {
	b.initOnce.Do(func() {
		exists, err := b.client.BucketExists(ctx, b.bucket)
		if err != nil {
			b.initErr = fmt.Errorf("fetch: check s3 bucket %q: %w", b.bucket, err)
			return
		}
		if !exists {
			b.initErr = fmt.Errorf("%w: s3 bucket %q", ErrNotFound, b.bucket)
		}
	})
	return b.initErr
}

func (b *s3Backend) Get(ctx context.Context, path string) ([]byte, error) {
	if err := b.ensureBucket(ctx); err != nil {
		return nil, err
	}
	key := path
	if b.prefix != "" {
		key = b.prefix + "/" + path
	}
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: s3://%s/%s: %v", ErrNetwork, b.bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, b.bucket, key)
		}
		return nil, fmt.Errorf("%w: s3://%s/%s: %v", ErrNetwork, b.bucket, key, err)
	}
	return data, nil
}
