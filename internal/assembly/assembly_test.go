package assembly

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	full := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func readZipEntries(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	out := map[string]string{}
	for _, f := range r.File {
		out[f.Name] = mustReadAll(t, f)
	}
	return out
}

func mustReadAll(t *testing.T, f *zip.File) string {
	t.Helper()
	rc, err := f.Open()
	require.NoError(t, err)
	defer rc.Close()
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := rc.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			break
		}
	}
	return string(buf)
}

func TestAssemble_NoConflict(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "a.txt", "hello")
	writeFile(t, src, "nested/b.txt", "world")

	out := filepath.Join(t.TempDir(), "out.jar")
	err := Assemble([]Input{{Root: src, Own: true}}, out, Options{})
	require.NoError(t, err)

	entries := readZipEntries(t, out)
	assert.Equal(t, "hello", entries["a.txt"])
	assert.Equal(t, "world", entries["nested/b.txt"])
}

func TestAssemble_CompressFalseStoresEntriesUncompressed(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "a.txt", "hello")

	out := filepath.Join(t.TempDir(), "out.jar")
	require.NoError(t, Assemble([]Input{{Root: src, Own: true}}, out, Options{Compress: false}))

	r, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer r.Close()
	require.Len(t, r.File, 1)
	assert.Equal(t, zip.Store, r.File[0].Method)
}

func TestAssemble_CompressTrueDeflatesEntries(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "a.txt", "hello")

	out := filepath.Join(t.TempDir(), "out.jar")
	require.NoError(t, Assemble([]Input{{Root: src, Own: true}}, out, Options{Compress: true}))

	r, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer r.Close()
	require.Len(t, r.File, 1)
	assert.Equal(t, zip.Deflate, r.File[0].Method)
}

func TestAssemble_OwnAlwaysWins(t *testing.T) {
	own := t.TempDir()
	lib := t.TempDir()
	writeFile(t, own, "META-INF/MANIFEST.MF", "own-manifest")
	writeFile(t, lib, "META-INF/MANIFEST.MF", "lib-manifest")

	out := filepath.Join(t.TempDir(), "out.jar")
	err := Assemble([]Input{
		{Root: lib, Own: false},
		{Root: own, Own: true},
	}, out, Options{})
	require.NoError(t, err)

	entries := readZipEntries(t, out)
	assert.Equal(t, "own-manifest", entries["META-INF/MANIFEST.MF"])
}

func TestAssemble_DefaultStrategyFailsOnConflict(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	writeFile(t, a, "dup.txt", "a")
	writeFile(t, b, "dup.txt", "b")

	out := filepath.Join(t.TempDir(), "out.jar")
	err := Assemble([]Input{{Root: a}, {Root: b}}, out, Options{})
	require.Error(t, err)
	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, "dup.txt", conflictErr.Path)
}

func TestAssemble_FirstWinsStrategy(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	writeFile(t, a, "dup.txt", "first")
	writeFile(t, b, "dup.txt", "second")

	out := filepath.Join(t.TempDir(), "out.jar")
	err := Assemble([]Input{{Root: a}, {Root: b}}, out, Options{
		Select: func(path string) ConflictStrategy { return FirstWins },
	})
	require.NoError(t, err)
	entries := readZipEntries(t, out)
	assert.Equal(t, "first", entries["dup.txt"])
}

func TestAssemble_ConcatenateStrategy(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	writeFile(t, a, "META-INF/services/x", "impl.A")
	writeFile(t, b, "META-INF/services/x", "impl.B")

	out := filepath.Join(t.TempDir(), "out.jar")
	err := Assemble([]Input{{Root: a}, {Root: b}}, out, Options{
		Select: func(path string) ConflictStrategy { return Concatenate },
	})
	require.NoError(t, err)
	entries := readZipEntries(t, out)
	assert.Equal(t, "impl.A\nimpl.B", entries["META-INF/services/x"])
}

func TestAssemble_MapFilterDropsPath(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "a.txt", "keep")
	writeFile(t, src, "META-INF/signature.SF", "drop")

	out := filepath.Join(t.TempDir(), "out.jar")
	err := Assemble([]Input{{Root: src}}, out, Options{
		Filter: func(path string) bool { return filepath.Ext(path) != ".SF" },
	})
	require.NoError(t, err)
	entries := readZipEntries(t, out)
	_, hasSF := entries["META-INF/signature.SF"]
	assert.False(t, hasSF)
	assert.Equal(t, "keep", entries["a.txt"])
}

func TestAssemble_RenameRelocates(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "com/acme/Foo.class", "bytes")

	out := filepath.Join(t.TempDir(), "out.jar")
	err := Assemble([]Input{{Root: src}}, out, Options{
		Rename: func(path string) string { return "shaded/" + path },
	})
	require.NoError(t, err)
	entries := readZipEntries(t, out)
	assert.Equal(t, "bytes", entries["shaded/com/acme/Foo.class"])
}

func TestAssemble_DeterministicAcrossRuns(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "a.txt", "1")
	writeFile(t, src, "b.txt", "2")

	out1 := filepath.Join(t.TempDir(), "out1.jar")
	out2 := filepath.Join(t.TempDir(), "out2.jar")
	require.NoError(t, Assemble([]Input{{Root: src}}, out1, Options{}))
	require.NoError(t, Assemble([]Input{{Root: src}}, out2, Options{}))

	b1, err := os.ReadFile(out1)
	require.NoError(t, err)
	b2, err := os.ReadFile(out2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestResolveGroup_SingleOwnCandidateSkipsStrategy(t *testing.T) {
	called := false
	opts := Options{Select: func(path string) ConflictStrategy {
		return func(path string, candidates []Candidate) (Candidate, error) {
			called = true
			return candidates[0], nil
		}
	}}
	group := []Candidate{
		{Path: "x", Own: false, SourceOrder: 0, data: func() ([]byte, error) { return []byte("lib"), nil }},
		{Path: "x", Own: true, SourceOrder: 1, data: func() ([]byte, error) { return []byte("own"), nil }},
	}
	winner, err := resolveGroup("x", group, opts)
	require.NoError(t, err)
	assert.False(t, called)
	data, _ := winner.Data()
	assert.Equal(t, "own", string(data))
}
