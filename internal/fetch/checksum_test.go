package fetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-build/crucible/internal/coordinate"
)

type mapBackend map[string][]byte

func (m mapBackend) Get(ctx context.Context, path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func TestSum_KnownAlgorithms(t *testing.T) {
	data := []byte("hello")
	assert.Len(t, Sum(SHA1, data), 40)
	assert.Len(t, Sum(SHA256, data), 64)
	assert.Len(t, Sum(MD5, data), 32)
}

func TestVerify_IgnorePolicySkipsEntirely(t *testing.T) {
	ok, err := Verify(context.Background(), mapBackend{}, "a.jar", []byte("x"), coordinate.ID{}, coordinate.ChecksumIgnore)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_NoSidecarPublishedTreatedAsOK(t *testing.T) {
	ok, err := Verify(context.Background(), mapBackend{}, "a.jar", []byte("x"), coordinate.ID{}, coordinate.ChecksumFail)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_MatchingSidecarPasses(t *testing.T) {
	data := []byte("artifact-bytes")
	sum := Sum(SHA1, data)
	backend := mapBackend{"a.jar.sha1": []byte(sum)}

	ok, err := Verify(context.Background(), backend, "a.jar", data, coordinate.ID{}, coordinate.ChecksumFail)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_MismatchUnderFailPolicyReturnsChecksumError(t *testing.T) {
	data := []byte("artifact-bytes")
	backend := mapBackend{"a.jar.sha1": []byte("deadbeef")}
	id := coordinate.ID{Group: "g", Name: "a", Version: "1.0"}

	ok, err := Verify(context.Background(), backend, "a.jar", data, id, coordinate.ChecksumFail)
	assert.False(t, ok)
	require.Error(t, err)
	var cerr *ChecksumError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, id, cerr.Coordinate)
	assert.Equal(t, SHA1, cerr.Algorithm)
	assert.Equal(t, "deadbeef", cerr.Expected)
}

func TestVerify_MismatchUnderWarnPolicyReturnsFalseNoError(t *testing.T) {
	data := []byte("artifact-bytes")
	backend := mapBackend{"a.jar.sha1": []byte("deadbeef")}

	ok, err := Verify(context.Background(), backend, "a.jar", data, coordinate.ID{}, coordinate.ChecksumWarn)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_FallsBackToSHA256WhenNoSHA1Sidecar(t *testing.T) {
	data := []byte("artifact-bytes")
	sum := Sum(SHA256, data)
	backend := mapBackend{"a.jar.sha256": []byte(sum)}

	ok, err := Verify(context.Background(), backend, "a.jar", data, coordinate.ID{}, coordinate.ChecksumFail)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChecksumError_ErrorMessage(t *testing.T) {
	err := &ChecksumError{Coordinate: coordinate.ID{Group: "g", Name: "a", Version: "1.0"}, Algorithm: SHA1, Expected: "e", Got: "g"}
	assert.Contains(t, err.Error(), "checksum mismatch")
}
