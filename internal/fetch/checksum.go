package fetch

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/crucible-build/crucible/internal/coordinate"
)

// Algorithm identifies a checksum sidecar extension.
type Algorithm string

const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	MD5    Algorithm = "md5"
)

// Sum computes the hex-encoded checksum of data for the given algorithm.
func Sum(alg Algorithm, data []byte) string {
	switch alg {
	case SHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	case MD5:
		sum := md5.Sum(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha1.Sum(data)
		return hex.EncodeToString(sum[:])
	}
}

// ChecksumError is returned when a fetched artifact's checksum does not
// match its sidecar under a "fail" policy.
type ChecksumError struct {
	Coordinate coordinate.ID
	Algorithm  Algorithm
	Expected   string
	Got        string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("fetch: checksum mismatch for %s (%s): expected %s, got %s",
		e.Coordinate, e.Algorithm, e.Expected, e.Got)
}

// Verify fetches the sidecar at artifactPath plus "." and the algorithm
// name via backend (trying sha1, then
// sha256, then md5, stopping at the first sidecar that exists) and
// compares it against data, honoring policy: fail returns a *ChecksumError
// on mismatch, warn returns (false, nil) with the caller expected to log a
// warning, ignore always returns (true, nil).
func Verify(ctx context.Context, backend Backend, artifactPath string, data []byte, id coordinate.ID, policy coordinate.ChecksumPolicy) (bool, error) {
	if policy == coordinate.ChecksumIgnore {
		return true, nil
	}

	for _, alg := range []Algorithm{SHA1, SHA256, MD5} {
		sidecar, err := backend.Get(ctx, artifactPath+"."+string(alg))
		if err != nil {
			continue
		}
		expected := strings.Fields(strings.TrimSpace(string(sidecar)))
		if len(expected) == 0 {
			continue
		}
		got := Sum(alg, data)
		if strings.EqualFold(expected[0], got) {
			return true, nil
		}
		if policy == coordinate.ChecksumWarn {
			return false, nil
		}
		return false, &ChecksumError{Coordinate: id, Algorithm: alg, Expected: expected[0], Got: got}
	}
	// No sidecar published at all: treated as nothing to verify against.
	return true, nil
}
