// Package pom parses Maven POM files and maven-metadata.xml documents,
// grounded on matzehuels-stacktower/pkg/deps/java/pom.go and
// pkg/integrations/maven/client.go's XML structs, extended with <parent>
// inheritance, <properties>/${...} substitution and <dependencyManagement>
// merging that the stacktower version (a dependency-graph visualizer, not
// a resolver) does not need.
package pom

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/crucible-build/crucible/internal/coordinate"
)

// document is the raw XML shape of a single POM file.
type document struct {
	XMLName    xml.Name `xml:"project"`
	GroupID    string   `xml:"groupId"`
	ArtifactID string   `xml:"artifactId"`
	Version    string   `xml:"version"`
	Packaging  string   `xml:"packaging"`
	Parent     *xmlParent `xml:"parent"`
	Properties xmlProperties `xml:"properties"`

	Dependencies           []xmlDependency `xml:"dependencies>dependency"`
	DependencyManagement   []xmlDependency `xml:"dependencyManagement>dependencies>dependency"`
}

type xmlParent struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
}

type xmlProperties struct {
	Entries []xmlProperty `xml:",any"`
}

type xmlProperty struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type xmlDependency struct {
	GroupID    string         `xml:"groupId"`
	ArtifactID string         `xml:"artifactId"`
	Version    string         `xml:"version"`
	Classifier string         `xml:"classifier"`
	Type       string         `xml:"type"`
	Scope      string         `xml:"scope"`
	Optional   string         `xml:"optional"`
	Exclusions []xmlExclusion `xml:"exclusions>exclusion"`
}

type xmlExclusion struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
}

// Project is the fully-resolved, inheritance-and-property-substituted
// result of parsing one POM plus its <parent> chain.
type Project struct {
	ID                   coordinate.ID
	Packaging            string
	Properties           map[string]string
	DependencyManagement []coordinate.Dependency
	Dependencies         []coordinate.Dependency
}

// PackagingOrDefault returns the POM's declared packaging, defaulting to
// "jar" when absent (the Maven default).
func (p Project) PackagingOrDefault() string {
	if p.Packaging == "" {
		return "jar"
	}
	return p.Packaging
}

// ParentRef identifies the parent POM to fetch next when walking an
// inheritance chain. Resolve passes its fields to the caller-supplied
// Fetcher, so the caller (which owns fetching, via internal/fetch)
// retrieves the parent bytes itself.
type ParentRef struct {
	GroupID, ArtifactID, Version string
}

// ParseOne parses a single POM document's raw XML without resolving its
// parent chain or substituting properties; inheritance and substitution
// are layered on top by Resolve.
func ParseOne(data []byte) (doc rawDoc, err error) {
	var d document
	if err := xml.Unmarshal(data, &d); err != nil {
		return rawDoc{}, fmt.Errorf("pom: parse: %w", err)
	}
	return rawDoc{d: d}, nil
}

// rawDoc wraps the unexported XML shape so callers outside this package
// can hold a parsed-but-not-yet-resolved POM without exposing XML tags in
// the public API.
type rawDoc struct {
	d document
}

// Parent reports the parent POM reference, if any.
func (r rawDoc) Parent() (ParentRef, bool) {
	if r.d.Parent == nil {
		return ParentRef{}, false
	}
	return ParentRef{GroupID: r.d.Parent.GroupID, ArtifactID: r.d.Parent.ArtifactID, Version: r.d.Parent.Version}, true
}

// Fetcher retrieves a parent POM's raw bytes, implemented by
// internal/fetch against the same repository chain used for the artifact
// itself.
type Fetcher func(groupID, artifactID, version string) ([]byte, error)

// Resolve walks root's <parent> chain via fetchParent, merges properties
// and dependencyManagement downward (child overrides parent on key
// collision — the project being resolved is the most specific), then
// substitutes ${...} property placeholders and returns the effective
// Project.
func Resolve(root rawDoc, fetchParent Fetcher) (Project, error) {
	chain := []document{root.d}
	cur := root.d
	seen := map[string]bool{}
	for cur.Parent != nil {
		key := cur.Parent.GroupID + ":" + cur.Parent.ArtifactID + ":" + cur.Parent.Version
		if seen[key] {
			return Project{}, fmt.Errorf("pom: cyclic parent chain at %s", key)
		}
		seen[key] = true

		data, err := fetchParent(cur.Parent.GroupID, cur.Parent.ArtifactID, cur.Parent.Version)
		if err != nil {
			return Project{}, fmt.Errorf("pom: fetch parent %s: %w", key, err)
		}
		parentDoc, err := ParseOne(data)
		if err != nil {
			return Project{}, fmt.Errorf("pom: parse parent %s: %w", key, err)
		}
		chain = append(chain, parentDoc.d)
		cur = parentDoc.d
	}

	props := map[string]string{}
	for i := len(chain) - 1; i >= 0; i-- {
		for _, p := range chain[i].Properties.Entries {
			props[p.XMLName.Local] = p.Value
		}
	}

	groupID, version := root.d.GroupID, root.d.Version
	if groupID == "" && root.d.Parent != nil {
		groupID = root.d.Parent.GroupID
	}
	if version == "" && root.d.Parent != nil {
		version = root.d.Parent.Version
	}
	props["project.groupId"] = groupID
	props["project.artifactId"] = root.d.ArtifactID
	props["project.version"] = version

	depMgmt := mergeManagement(chain, props)
	deps := convertDependencies(root.d.Dependencies, props)

	return Project{
		ID: coordinate.ID{
			Group:   substitute(groupID, props),
			Name:    root.d.ArtifactID,
			Version: substitute(version, props),
			Type:    "jar",
		},
		Packaging:            root.d.Packaging,
		Properties:           props,
		DependencyManagement: depMgmt,
		Dependencies:         deps,
	}, nil
}

// mergeManagement flattens dependencyManagement sections down the
// inheritance chain, parent-most first so child entries (earlier in chain,
// since chain[0] is root) override on (group, artifact, classifier, type)
// collision per Maven's own "closer wins" rule applied to management too.
func mergeManagement(chain []document, props map[string]string) []coordinate.Dependency {
	type key struct{ group, name, classifier, typ string }
	byKey := map[key]coordinate.Dependency{}
	order := []key{}

	for i := len(chain) - 1; i >= 0; i-- {
		for _, xd := range chain[i].DependencyManagement {
			d := convertDependency(xd, props)
			k := key{d.ID.Group, d.ID.Name, d.ID.Classifier, d.ID.Type}
			if _, exists := byKey[k]; !exists {
				order = append(order, k)
			}
			byKey[k] = d
		}
	}
	out := make([]coordinate.Dependency, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

func convertDependencies(xs []xmlDependency, props map[string]string) []coordinate.Dependency {
	out := make([]coordinate.Dependency, 0, len(xs))
	for _, x := range xs {
		out = append(out, convertDependency(x, props))
	}
	return out
}

// convertDependency leaves Scope empty when the POM doesn't declare one,
// rather than defaulting it to "compile" here: ApplyManagement's
// management-override check treats an empty Scope as "not yet decided",
// so defaulting has to happen after management has had its chance to run,
// not before.
func convertDependency(x xmlDependency, props map[string]string) coordinate.Dependency {
	scope := coordinate.Scope(x.Scope)
	typ := x.Type
	if typ == "" {
		typ = "jar"
	}
	d := coordinate.Dependency{
		ID: coordinate.ID{
			Group:      substitute(x.GroupID, props),
			Name:       substitute(x.ArtifactID, props),
			Version:    substitute(x.Version, props),
			Classifier: substitute(x.Classifier, props),
			Type:       substitute(typ, props),
		},
		Scope:    scope,
		Optional: x.Optional == "true",
	}
	for _, exc := range x.Exclusions {
		g, n := exc.GroupID, exc.ArtifactID
		d.Exclusions = append(d.Exclusions, coordinate.Exclusion{
			Group: strPtr(g, "*"),
			Name:  strPtr(n, "*"),
		})
	}
	return d
}

func strPtr(v, wildcard string) *string {
	if v == "" || v == wildcard {
		return nil
	}
	return &v
}

// substitute replaces every ${prop} occurrence in s using props, leaving
// unresolved placeholders verbatim (callers that need to skip unresolved
// dependencies, as the stacktower client does, check for a literal "${"
// prefix after substitution).
func substitute(s string, props map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var out strings.Builder
	for {
		start := strings.Index(s, "${")
		if start == -1 {
			out.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "}")
		if end == -1 {
			out.WriteString(s)
			break
		}
		end += start
		out.WriteString(s[:start])
		name := s[start+2 : end]
		if v, ok := props[name]; ok {
			out.WriteString(v)
		} else {
			out.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
	return out.String()
}

// ApplyManagement mirrors Maven's dependencyManagement consultation (spec
// §4.2 step 4): if management contains an entry matching d's (group, name,
// classifier, type), its version/scope/exclusions/optional are applied to
// d, unless d already declares its own. Callers must apply management
// before calling DefaultScope, or the Scope=="" check here never fires.
func ApplyManagement(d coordinate.Dependency, management []coordinate.Dependency) coordinate.Dependency {
	for _, m := range management {
		if m.ID.Group != d.ID.Group || m.ID.Name != d.ID.Name {
			continue
		}
		if m.ID.Classifier != d.ID.Classifier || m.ID.Type != d.ID.Type {
			continue
		}
		if d.ID.Version == "" {
			d.ID.Version = m.ID.Version
		}
		if d.Scope == "" {
			d.Scope = m.Scope
		}
		if len(d.Exclusions) == 0 {
			d.Exclusions = m.Exclusions
		}
		if !d.Optional {
			d.Optional = m.Optional
		}
		return d
	}
	return d
}

// DefaultScope fills an undeclared Scope with "compile", Maven's implicit
// default. Called once management has already had the chance to supply a
// scope of its own.
func DefaultScope(d coordinate.Dependency) coordinate.Dependency {
	if d.Scope == "" {
		d.Scope = coordinate.ScopeCompile
	}
	return d
}
