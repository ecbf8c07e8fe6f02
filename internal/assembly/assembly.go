// Package assembly flattens classpath entries (directory trees and
// zip-like archives) into a single deterministic archive, resolving
// path conflicts between entries with a configurable strategy. Archive
// walking is grounded on invowk-invowk/pkg/bundle/bundle.go's Pack
// (filepath.WalkDir, zip.FileInfoHeader, zip.Deflate); archive/zip is
// used directly, matching that file's own idiom rather than reaching
// for a third-party zip library.
package assembly

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/flate"
)

// epoch is the fixed modification time stamped on every emitted entry so
// that identical inputs produce byte-identical archives.
var epoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Input is one classpath entry: either a directory tree or a zip-like
// archive, per spec §4.3's "Input".
type Input struct {
	// Root is a directory to walk, mutually exclusive with Archive.
	Root string
	// Archive is a zip file to enumerate, mutually exclusive with Root.
	Archive string
	// Own is true for the project's own output (sources/classes), false
	// for library dependencies; used by the own-always-wins tie-break.
	Own bool
	// ExtractEntries controls whether Archive's entries are unpacked into
	// the assembly or the archive is copied in as a single opaque entry.
	ExtractEntries bool
}

// Candidate is one (source-entry, internal-path, own) tuple competing for
// a final archive path, passed to a ConflictStrategy.
type Candidate struct {
	Path        string
	Own         bool
	SourceOrder int
	Mode        fs.FileMode
	data        func() ([]byte, error)
}

// Data returns the candidate's bytes.
func (c Candidate) Data() ([]byte, error) { return c.data() }

// ConflictStrategy resolves a group of candidates sharing the same final
// path into the single candidate (or merged candidate) to emit. Returning
// an error aborts assembly.
type ConflictStrategy func(path string, candidates []Candidate) (Candidate, error)

// ErrUnexpectedConflict is wrapped by NoConflictStrategyChooser's error.
var ErrUnexpectedConflict = fmt.Errorf("assembly: unexpected conflict")

// ConflictError is returned by FailStrategy (and propagated by
// NoConflictStrategyChooser) when a path has more than one candidate.
type ConflictError struct {
	Path       string
	Candidates []Candidate
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("assembly: %d entries conflict at %q", len(e.Candidates), e.Path)
}

func (e *ConflictError) Unwrap() error { return ErrUnexpectedConflict }

// FirstWins keeps the candidate with the smallest SourceOrder (the
// earliest-declared classpath entry).
func FirstWins(path string, candidates []Candidate) (Candidate, error) {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.SourceOrder < best.SourceOrder {
			best = c
		}
	}
	return best, nil
}

// LastWins keeps the candidate with the largest SourceOrder.
func LastWins(path string, candidates []Candidate) (Candidate, error) {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.SourceOrder > best.SourceOrder {
			best = c
		}
	}
	return best, nil
}

// Concatenate merges all candidates' bytes in SourceOrder, separated by a
// newline, for text-like service files (e.g. META-INF/services/*).
func Concatenate(path string, candidates []Candidate) (Candidate, error) {
	sorted := append([]Candidate{}, candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SourceOrder < sorted[j].SourceOrder })
	merged := func() ([]byte, error) {
		var out []byte
		for i, c := range sorted {
			data, err := c.Data()
			if err != nil {
				return nil, err
			}
			if i > 0 && len(out) > 0 && out[len(out)-1] != '\n' {
				out = append(out, '\n')
			}
			out = append(out, data...)
		}
		return out, nil
	}
	return Candidate{Path: path, Mode: sorted[0].Mode, SourceOrder: sorted[0].SourceOrder, data: merged}, nil
}

// FailStrategy always returns a *ConflictError; it is the strategy
// NoConflictStrategyChooser dispatches to.
func FailStrategy(path string, candidates []Candidate) (Candidate, error) {
	return Candidate{}, &ConflictError{Path: path, Candidates: candidates}
}

// Discard drops every candidate at path: the path is omitted from output
// entirely.
func Discard(path string, candidates []Candidate) (Candidate, error) {
	return Candidate{Path: path, data: func() ([]byte, error) { return nil, nil }}, errDiscarded
}

var errDiscarded = fmt.Errorf("assembly: discarded")

// NoConflictStrategyChooser is the default selector: it fails on any
// unexpected conflict, per spec §4.3 step 3.
func NoConflictStrategyChooser(path string, candidates []Candidate) (Candidate, error) {
	return FailStrategy(path, candidates)
}

// Selector picks the strategy to apply for a given conflicted path,
// letting callers choose per-path (e.g. Concatenate for service files,
// FirstWins elsewhere).
type Selector func(path string) ConflictStrategy

// MapFilter prunes the resolved path->Candidate map by path, e.g.
// dropping signature files, per spec §4.3 step 4. Returning false drops
// the entry.
type MapFilter func(path string) bool

// RenameFunc maps a raw internal path to its final archive path, default
// identity; common use is prefix-relocation for shading.
type RenameFunc func(path string) string

// Options configures one Assemble call.
type Options struct {
	Rename   RenameFunc
	Select   Selector
	Filter   MapFilter
	Compress bool
}

func (o Options) rename(path string) string {
	if o.Rename == nil {
		return path
	}
	return o.Rename(path)
}

func (o Options) selector(path string) ConflictStrategy {
	if o.Select == nil {
		return NoConflictStrategyChooser
	}
	if s := o.Select(path); s != nil {
		return s
	}
	return NoConflictStrategyChooser
}

func (o Options) keep(path string) bool {
	if o.Filter == nil {
		return true
	}
	return o.Filter(path)
}

// Assemble runs the full spec §4.3 algorithm over inputs and writes a
// deterministic archive to outputPath.
func Assemble(inputs []Input, outputPath string, opts Options) error {
	grouped, order, err := enumerate(inputs, opts)
	if err != nil {
		return err
	}

	resolved := make(map[string]Candidate, len(grouped))
	for _, path := range order {
		group := grouped[path]
		winner, err := resolveGroup(path, group, opts)
		if err != nil {
			if err == errDiscarded {
				continue
			}
			return err
		}
		if !opts.keep(winner.Path) {
			continue
		}
		resolved[winner.Path] = winner
	}

	return emit(resolved, outputPath, opts.Compress)
}

// resolveGroup applies the own-always-wins tie-break before dispatching to
// the configured strategy, per spec §4.3 step 3.
func resolveGroup(path string, group []Candidate, opts Options) (Candidate, error) {
	if len(group) == 1 {
		return group[0], nil
	}

	var ownOnly []Candidate
	for _, c := range group {
		if c.Own {
			ownOnly = append(ownOnly, c)
		}
	}
	if len(ownOnly) == 1 {
		return ownOnly[0], nil
	}
	if len(ownOnly) > 1 {
		group = ownOnly
	}
	if len(group) == 1 {
		return group[0], nil
	}

	return opts.selector(path)(path, group)
}

// enumerate walks every input, tagging each candidate with
// (source-entry, internal-path, own) and grouping by final path after
// rename, per spec §4.3 steps 1-2. order preserves first-seen path order
// for deterministic iteration prior to the final sort at emit time.
func enumerate(inputs []Input, opts Options) (map[string][]Candidate, []string, error) {
	grouped := make(map[string][]Candidate)
	var order []string
	sourceOrder := 0

	addCandidate := func(c Candidate) {
		if _, seen := grouped[c.Path]; !seen {
			order = append(order, c.Path)
		}
		grouped[c.Path] = append(grouped[c.Path], c)
	}

	for _, in := range inputs {
		switch {
		case in.Root != "":
			if err := enumerateDir(in, opts, &sourceOrder, addCandidate); err != nil {
				return nil, nil, err
			}
		case in.Archive != "":
			if err := enumerateArchive(in, opts, &sourceOrder, addCandidate); err != nil {
				return nil, nil, err
			}
		}
	}
	return grouped, order, nil
}

func enumerateDir(in Input, opts Options, sourceOrder *int, add func(Candidate)) error {
	return filepath.WalkDir(in.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(in.Root, path)
		if err != nil {
			return err
		}
		internal := opts.rename(filepath.ToSlash(rel))
		info, err := d.Info()
		if err != nil {
			return err
		}
		p := path
		add(Candidate{
			Path:        internal,
			Own:         in.Own,
			SourceOrder: *sourceOrder,
			Mode:        info.Mode(),
			data:        func() ([]byte, error) { return os.ReadFile(p) },
		})
		*sourceOrder++
		return nil
	})
}

func enumerateArchive(in Input, opts Options, sourceOrder *int, add func(Candidate)) error {
	r, err := zip.OpenReader(in.Archive)
	if err != nil {
		return fmt.Errorf("assembly: open %s: %w", in.Archive, err)
	}
	defer r.Close()

	if !in.ExtractEntries {
		archivePath := in.Archive
		internal := opts.rename(filepath.ToSlash(filepath.Base(in.Archive)))
		add(Candidate{
			Path:        internal,
			Own:         in.Own,
			SourceOrder: *sourceOrder,
			Mode:        0o644,
			data:        func() ([]byte, error) { return os.ReadFile(archivePath) },
		})
		*sourceOrder++
		return nil
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		f := f
		internal := opts.rename(filepath.ToSlash(f.Name))
		add(Candidate{
			Path:        internal,
			Own:         in.Own,
			SourceOrder: *sourceOrder,
			Mode:        f.Mode(),
			data:        func() ([]byte, error) { return readZipEntry(f) },
		})
		*sourceOrder++
	}
	return nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// emit writes entries sorted by internal path, with mod-times pinned to
// epoch, per spec §4.3 step 5. compress selects Deflate (smaller, slower)
// over Store (larger, faster to read back) for every entry.
func emit(resolved map[string]Candidate, outputPath string, compress bool) error {
	paths := make([]string, 0, len(resolved))
	for p := range resolved {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("assembly: create output dir: %w", err)
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("assembly: create %s: %w", outputPath, err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	w.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})
	defer w.Close()

	method := uint16(zip.Store)
	if compress {
		method = zip.Deflate
	}

	for _, p := range paths {
		c := resolved[p]
		data, err := c.Data()
		if err != nil {
			return fmt.Errorf("assembly: read %s: %w", p, err)
		}
		header := &zip.FileHeader{
			Name:     p,
			Method:   method,
			Modified: epoch,
		}
		if c.Mode != 0 {
			header.SetMode(c.Mode)
		}
		entry, err := w.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("assembly: create entry %s: %w", p, err)
		}
		if _, err := entry.Write(data); err != nil {
			return fmt.Errorf("assembly: write entry %s: %w", p, err)
		}
	}
	return w.Close()
}
