package coordinate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_IsSnapshot(t *testing.T) {
	assert.True(t, ID{Version: "1.0-SNAPSHOT"}.IsSnapshot())
	assert.False(t, ID{Version: "1.0"}.IsSnapshot())
}

func TestID_GroupPath(t *testing.T) {
	id := ID{Group: "com.google.guava"}
	assert.Equal(t, "com/google/guava", id.GroupPath())
}

func TestID_GA(t *testing.T) {
	id := ID{Group: "com.google.guava", Name: "guava"}
	assert.Equal(t, "com.google.guava:guava", id.GA())
}

func TestID_String_MinimalForm(t *testing.T) {
	id := ID{Group: "g", Name: "a", Version: "1.0"}
	assert.Equal(t, "g:a:1.0", id.String())
}

func TestID_String_WithClassifierAndType(t *testing.T) {
	id := ID{Group: "g", Name: "a", Version: "1.0", Classifier: "sources", Type: "zip"}
	assert.Equal(t, "g:a:1.0:sources@zip", id.String())
}

func TestID_String_OmitsDefaultJarType(t *testing.T) {
	id := ID{Group: "g", Name: "a", Version: "1.0", Type: "jar"}
	assert.Equal(t, "g:a:1.0", id.String())
}

func TestParse_MinimalForm(t *testing.T) {
	id, err := Parse("g:a:1.0")
	require.NoError(t, err)
	assert.Equal(t, ID{Group: "g", Name: "a", Version: "1.0", Type: "jar"}, id)
}

func TestParse_WithClassifierAndType(t *testing.T) {
	id, err := Parse("g:a:1.0:sources@zip")
	require.NoError(t, err)
	assert.Equal(t, ID{Group: "g", Name: "a", Version: "1.0", Classifier: "sources", Type: "zip"}, id)
}

func TestParse_RoundTripsWithString(t *testing.T) {
	original := ID{Group: "g", Name: "a", Version: "1.0", Classifier: "sources", Type: "zip"}
	id, err := Parse(original.String())
	require.NoError(t, err)
	assert.Equal(t, original, id)
}

func TestParse_RejectsTooFewComponents(t *testing.T) {
	_, err := Parse("g:a")
	assert.Error(t, err)
}

func TestParse_RejectsTooManyComponents(t *testing.T) {
	_, err := Parse("g:a:1:c:extra")
	assert.Error(t, err)
}

func TestParse_RejectsEmptyComponent(t *testing.T) {
	_, err := Parse("g::1.0")
	assert.Error(t, err)
}

func TestExclusion_Matches_NilFieldsMatchAnything(t *testing.T) {
	e := Exclusion{}
	assert.True(t, e.Matches(ID{Group: "g", Name: "a"}))
}

func TestExclusion_Matches_RequiresAllNonNilFieldsToMatch(t *testing.T) {
	group := "g"
	name := "wrong"
	e := Exclusion{Group: &group, Name: &name}
	assert.False(t, e.Matches(ID{Group: "g", Name: "a"}))

	name = "a"
	assert.True(t, e.Matches(ID{Group: "g", Name: "a"}))
}

func TestRepository_IsFileScheme(t *testing.T) {
	assert.True(t, Repository{URL: "file:///repo"}.IsFileScheme())
	assert.False(t, Repository{URL: "https://repo.example.com"}.IsFileScheme())
}

func TestArtifactPath_Data_LoadsOnceAndCaches(t *testing.T) {
	calls := 0
	a := NewArtifactPath("/tmp/x.jar", nil, "https://example.com/x.jar", false, func() ([]byte, error) {
		calls++
		return []byte("bytes"), nil
	})

	data, err := a.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), data)

	data, err = a.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), data)
	assert.Equal(t, 1, calls)
}

func TestArtifactPath_Data_CachesError(t *testing.T) {
	calls := 0
	loadErr := errors.New("boom")
	a := NewArtifactPath("/tmp/x.jar", nil, "", false, func() ([]byte, error) {
		calls++
		return nil, loadErr
	})

	_, err := a.Data()
	assert.ErrorIs(t, err, loadErr)
	_, err = a.Data()
	assert.ErrorIs(t, err, loadErr)
	assert.Equal(t, 1, calls)
}

func TestResolvedDependency_HasError(t *testing.T) {
	assert.False(t, ResolvedDependency{}.HasError())
	assert.True(t, ResolvedDependency{Log: "failed"}.HasError())
}
