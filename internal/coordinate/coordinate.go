// Package coordinate defines the immutable value types of the Maven-2
// dependency model: dependency identifiers, exclusions, dependencies,
// repositories, resolved nodes and artifact paths. Shapes are grounded on
// matzehuels-stacktower's pomProject/pomDependency and on
// other_examples/albertocavalcante-go-bzlmod's ModuleToResolve/
// ResolutionSummary for the mediation bookkeeping fields.
package coordinate

import (
	"fmt"
	"strings"
	"sync"
)

// Scope is the Maven dependency scope.
type Scope string

const (
	ScopeCompile  Scope = "compile"
	ScopeProvided Scope = "provided"
	ScopeRuntime  Scope = "runtime"
	ScopeTest     Scope = "test"
	ScopeSystem   Scope = "system"
	// ScopeAggregate is used internally to mean "merge all scopes",
	// matching spec §3's Dependency.scope enumeration.
	ScopeAggregate Scope = "aggregate"
)

// TypeChooseByPackaging defers artifact type selection to the resolved
// POM's <packaging> element, per spec §4.2 step 7.
const TypeChooseByPackaging = "choose-by-packaging"

// ID is an immutable Maven coordinate: group, artifact name, version, an
// optional classifier and a type (defaulting to "jar" or
// TypeChooseByPackaging). A version ending in "-SNAPSHOT" marks the id as
// a snapshot.
type ID struct {
	Group                   string
	Name                    string
	Version                 string
	Classifier              string
	Type                    string
	SnapshotVersionOverride string
}

// IsSnapshot reports whether Version ends in "-SNAPSHOT".
func (id ID) IsSnapshot() bool {
	return strings.HasSuffix(id.Version, "-SNAPSHOT")
}

// GroupPath returns the group with dots replaced by slashes, the directory
// component of the Maven repository layout.
func (id ID) GroupPath() string {
	return strings.ReplaceAll(id.Group, ".", "/")
}

// GA returns the "group:name" pair used as the mediation key: two
// dependencies on the same (group, name) at different versions conflict
// and must be mediated.
func (id ID) GA() string {
	return id.Group + ":" + id.Name
}

// String renders the canonical "group:name:version[:classifier][@type]"
// form used by the round-trip Parse/String pair.
func (id ID) String() string {
	s := fmt.Sprintf("%s:%s:%s", id.Group, id.Name, id.Version)
	if id.Classifier != "" {
		s += ":" + id.Classifier
	}
	if id.Type != "" && id.Type != "jar" {
		s += "@" + id.Type
	}
	return s
}

// Parse parses the canonical "group:name:version[:classifier][@type]" form
// produced by ID.String.
func Parse(s string) (ID, error) {
	typ := "jar"
	body := s
	if at := strings.LastIndex(s, "@"); at != -1 {
		typ = s[at+1:]
		body = s[:at]
	}
	parts := strings.Split(body, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return ID{}, fmt.Errorf("coordinate: invalid identifier %q", s)
	}
	id := ID{Group: parts[0], Name: parts[1], Version: parts[2], Type: typ}
	if len(parts) == 4 {
		id.Classifier = parts[3]
	}
	if id.Group == "" || id.Name == "" || id.Version == "" {
		return ID{}, fmt.Errorf("coordinate: invalid identifier %q: empty component", s)
	}
	return id, nil
}

// Exclusion is a wildcard-capable pattern matched against an ID: a nil
// field matches anything.
type Exclusion struct {
	Group      *string
	Name       *string
	Version    *string
	Classifier *string
	Type       *string
}

// Matches reports whether every non-nil field of e equals the
// corresponding field of id.
func (e Exclusion) Matches(id ID) bool {
	check := func(want *string, got string) bool { return want == nil || *want == got }
	return check(e.Group, id.Group) &&
		check(e.Name, id.Name) &&
		check(e.Version, id.Version) &&
		check(e.Classifier, id.Classifier) &&
		check(e.Type, id.Type)
}

// Dependency is one declared dependency edge: the coordinate, its scope,
// whether it is optional, exclusions that prune its own transitive edges,
// and a dependency-management list it contributes to its subtree.
type Dependency struct {
	ID                 ID
	Scope              Scope
	Optional           bool
	Exclusions         []Exclusion
	DependencyManagement []Dependency
}

// Repository describes one artifact source in a resolver's repository
// chain.
type Repository struct {
	Name                   string
	URL                    string
	Cache                  *Repository
	ChecksumPolicy         ChecksumPolicy
	SnapshotRecheckSeconds int
	Authoritative          bool
	Local                  bool
}

// ChecksumPolicy controls how a checksum mismatch is handled.
type ChecksumPolicy string

const (
	ChecksumFail   ChecksumPolicy = "fail"
	ChecksumWarn   ChecksumPolicy = "warn"
	ChecksumIgnore ChecksumPolicy = "ignore"
)

// IsFileScheme reports whether r's URL uses the "file" scheme. It checks
// the URL only; whether r has a Cache is not considered.
func (r Repository) IsFileScheme() bool {
	return strings.HasPrefix(r.URL, "file:")
}

// ArtifactPath is a resolved on-disk (or cache) location for an artifact.
// Data is loaded lazily and retained once read.
type ArtifactPath struct {
	Path       string
	Repository *Repository
	OriginURL  string
	FromCache  bool

	once sync.Once
	data []byte
	err  error
	load func() ([]byte, error)
}

// NewArtifactPath constructs an ArtifactPath whose bytes are produced by
// load on first access.
func NewArtifactPath(path string, repo *Repository, originURL string, fromCache bool, load func() ([]byte, error)) *ArtifactPath {
	return &ArtifactPath{Path: path, Repository: repo, OriginURL: originURL, FromCache: fromCache, load: load}
}

// Data returns the artifact's bytes, loading them on first call and
// caching the result (or error) for subsequent calls.
func (a *ArtifactPath) Data() ([]byte, error) {
	a.once.Do(func() {
		a.data, a.err = a.load()
	})
	return a.data, a.err
}

// ResolvedDependency is one node in a resolved dependency graph.
type ResolvedDependency struct {
	ID           ID
	Scope        Scope
	Transitive   []Dependency
	ResolvedFrom *Repository
	Artifact     *ArtifactPath
	Log          string

	// RequiredBy and Depth support "nearest wins, then first-declared
	// wins" mediation bookkeeping, the same shape as
	// other_examples/albertocavalcante-go-bzlmod's ModuleToResolve.
	RequiredBy []ID
	Depth      int
	Overridden bool
}

// HasError reports whether the node failed to resolve, per spec §3 "has an
// error iff log != null".
func (r ResolvedDependency) HasError() bool { return r.Log != "" }
