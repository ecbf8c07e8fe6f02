package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/crucible-build/crucible/internal/coordinate"
	"github.com/crucible-build/crucible/internal/pom"
)

// Client retrieves artifacts and POMs across an ordered repository chain,
// handling snapshot resolution, checksum verification, authoritative
// short-circuiting and cache-repository write-through.
type Client struct {
	backends map[string]Backend
	metadata *MetadataCache
}

// NewClient creates a Client whose metadata staleness cache lives under
// cacheDir.
func NewClient(cacheDir string) (*Client, error) {
	mc, err := NewMetadataCache(filepath.Join(cacheDir, ".metadata-cache"))
	if err != nil {
		return nil, err
	}
	return &Client{backends: make(map[string]Backend), metadata: mc}, nil
}

func (c *Client) backendFor(repo coordinate.Repository) (Backend, error) {
	if b, ok := c.backends[repo.Name]; ok {
		return b, nil
	}
	b, err := NewBackend(repo.URL)
	if err != nil {
		return nil, err
	}
	c.backends[repo.Name] = b
	return b, nil
}

// OrderChain reorders repos so each repository's Cache is placed directly
// before the repository that declares it, and coalesces duplicate
// repository names, per spec §4.2 step 1.
func OrderChain(repos []coordinate.Repository) []coordinate.Repository {
	seen := map[string]bool{}
	var ordered []coordinate.Repository
	for _, r := range repos {
		if r.Cache != nil && !seen[r.Cache.Name] {
			seen[r.Cache.Name] = true
			ordered = append(ordered, *r.Cache)
		}
		if seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		ordered = append(ordered, r)
	}
	return ordered
}

// FetchPOM retrieves the POM bytes for id across repos in order, returning
// the first repository that answers with bytes. POM bytes are not checked
// against checksum sidecars. Authoritative repositories short-circuit the
// chain on a definitive not-found.
func (c *Client) FetchPOM(ctx context.Context, id coordinate.ID, repos []coordinate.Repository) ([]byte, *coordinate.Repository, error) {
	path := pomPath(id)
	return c.fetchWithChain(ctx, id, repos, path)
}

// FetchArtifact retrieves the artifact bytes for id (with a concrete,
// already-resolved Type — "choose-by-packaging" must be resolved by the
// caller before calling FetchArtifact) across repos, verifying checksums
// per policy and writing a successful fetch through to any Cache
// repositories ahead of the one that answered.
func (c *Client) FetchArtifact(ctx context.Context, id coordinate.ID, repos []coordinate.Repository, policy coordinate.ChecksumPolicy) ([]byte, *coordinate.Repository, error) {
	path, err := c.artifactPath(ctx, id, repos)
	if err != nil {
		return nil, nil, err
	}
	data, repo, err := c.fetchWithChain(ctx, id, repos, path)
	if err != nil {
		return nil, nil, err
	}

	backend, err := c.backendFor(*repo)
	if err != nil {
		return nil, nil, err
	}
	ok, verr := Verify(ctx, backend, path, data, id, policy)
	if verr != nil {
		return nil, nil, verr
	}
	if !ok {
		slog.Warn("fetch: checksum mismatch", "artifact", id.String(), "repository", repo.Name)
	}

	c.writeThroughCaches(repos, repo, path, data)
	return data, repo, nil
}

func (c *Client) fetchWithChain(ctx context.Context, id coordinate.ID, repos []coordinate.Repository, path string) ([]byte, *coordinate.Repository, error) {
	for i := range repos {
		repo := repos[i]
		backend, err := c.backendFor(repo)
		if err != nil {
			return nil, nil, err
		}
		data, err := backend.Get(ctx, path)
		if err == nil {
			return data, &repos[i], nil
		}
		if !isNotFound(err) {
			continue // transient; try next repository
		}
		if repo.Authoritative {
			return nil, nil, fmt.Errorf("%w: %s (authoritative repository %s)", ErrNotFound, id, repo.Name)
		}
	}
	return nil, nil, fmt.Errorf("%w: %s not found in any of %d repositories", ErrNotFound, id, len(repos))
}

func (c *Client) writeThroughCaches(repos []coordinate.Repository, found *coordinate.Repository, path string, data []byte) {
	for i := range repos {
		if repos[i].Name == found.Name {
			return
		}
		if repos[i].IsFileScheme() {
			dst := repos[i].URL[len("file://"):] + "/" + path
			if lock, err := AcquireExclusive(dst); err == nil {
				_ = os.WriteFile(dst, data, 0o644)
				_ = lock.Release()
			}
		}
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// artifactPath builds the repository-relative artifact path for id,
// resolving a "-SNAPSHOT" version to its concrete filename via
// maven-metadata.xml per spec §4.2's snapshot handling.
func (c *Client) artifactPath(ctx context.Context, id coordinate.ID, repos []coordinate.Repository) (string, error) {
	version := id.Version
	if id.IsSnapshot() {
		resolved, err := c.resolveSnapshotVersion(ctx, id, repos)
		if err != nil {
			return "", err
		}
		version = resolved
	}
	name := fmt.Sprintf("%s-%s", id.Name, version)
	if id.Classifier != "" {
		name += "-" + id.Classifier
	}
	ext := id.Type
	if ext == "" {
		ext = "jar"
	}
	return fmt.Sprintf("%s/%s/%s/%s.%s", id.GroupPath(), id.Name, id.Version, name, ext), nil
}

func (c *Client) resolveSnapshotVersion(ctx context.Context, id coordinate.ID, repos []coordinate.Repository) (string, error) {
	if id.SnapshotVersionOverride != "" {
		return id.SnapshotVersionOverride, nil
	}

	metaPath := fmt.Sprintf("%s/%s/%s/maven-metadata.xml", id.GroupPath(), id.Name, id.Version)
	for i := range repos {
		repo := repos[i]
		interval := time.Duration(repo.SnapshotRecheckSeconds) * time.Second
		cacheKey := repo.Name + ":" + metaPath

		data, err := c.metadata.Get(cacheKey, interval)
		if err != nil && !errors.Is(err, ErrStale) {
			continue
		}
		if data == nil {
			backend, berr := c.backendFor(repo)
			if berr != nil {
				continue
			}
			fetched, ferr := backend.Get(ctx, metaPath)
			if ferr != nil {
				continue
			}
			data = fetched
			_ = c.metadata.Set(cacheKey, data)
		}

		meta, perr := pom.ParseMetadata(data)
		if perr != nil {
			continue
		}
		ext := id.Type
		if ext == "" {
			ext = "jar"
		}
		return meta.ResolveSnapshotFilename(ext, id.Classifier, id.Version), nil
	}
	return id.Version, nil
}

func pomPath(id coordinate.ID) string {
	return fmt.Sprintf("%s/%s/%s/%s-%s.pom", id.GroupPath(), id.Name, id.Version, id.Name, id.Version)
}
