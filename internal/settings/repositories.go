// Package settings loads the optional build/repositories.hcl file that
// declares named repositories for the resolver, grounded on the
// teacher's internal/hcl_adapter/loader.go (hclparse.NewParser +
// gohcl.DecodeBody).
package settings

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/crucible-build/crucible/internal/coordinate"
)

// DefaultRepositoryName is the built-in repository used when no
// repositories.hcl file is present, per SPEC_FULL.md §7.
const DefaultRepositoryName = "central"

// DefaultRepositoryURL is Maven Central's canonical base URL.
const DefaultRepositoryURL = "https://repo.maven.apache.org/maven2"

// fileRoot is the top-level HCL block shape, mirroring the teacher's
// fileRoot decode-everything-at-once pattern.
type fileRoot struct {
	Repositories []*repositoryBlock `hcl:"repository,block"`
	Remain       hcl.Body           `hcl:",remain"`
}

type repositoryBlock struct {
	Name                   string `hcl:",label"`
	URL                    string `hcl:"url"`
	Cache                  *string `hcl:"cache,optional"`
	ChecksumPolicy         *string `hcl:"checksum_policy,optional"`
	SnapshotRecheckSeconds *int    `hcl:"snapshot_recheck_seconds,optional"`
	Authoritative          *bool   `hcl:"authoritative,optional"`
	Local                  *bool   `hcl:"local,optional"`
}

// Load parses path and returns its declared repositories in declaration
// order, resolving each "cache" reference to the already-declared
// repository it names. A missing file returns the single built-in Maven
// Central repository, per SPEC_FULL.md §7.
func Load(path string) ([]coordinate.Repository, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return []coordinate.Repository{Default()}, nil
	}

	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("settings: parse %s: %w", path, diags)
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("settings: decode %s: %w", path, diags)
	}

	byName := make(map[string]*coordinate.Repository, len(root.Repositories))
	var order []string
	for _, b := range root.Repositories {
		if _, dup := byName[b.Name]; dup {
			return nil, fmt.Errorf("settings: duplicate repository name %q in %s", b.Name, path)
		}
		r := &coordinate.Repository{
			Name:           b.Name,
			URL:            b.URL,
			ChecksumPolicy: coordinate.ChecksumFail,
		}
		if b.ChecksumPolicy != nil {
			r.ChecksumPolicy = coordinate.ChecksumPolicy(*b.ChecksumPolicy)
		}
		if b.SnapshotRecheckSeconds != nil {
			r.SnapshotRecheckSeconds = *b.SnapshotRecheckSeconds
		}
		if b.Authoritative != nil {
			r.Authoritative = *b.Authoritative
		}
		if b.Local != nil {
			r.Local = *b.Local
		}
		byName[b.Name] = r
		order = append(order, b.Name)
	}

	for _, b := range root.Repositories {
		if b.Cache == nil {
			continue
		}
		cache, ok := byName[*b.Cache]
		if !ok {
			return nil, fmt.Errorf("settings: repository %q references unknown cache %q", b.Name, *b.Cache)
		}
		byName[b.Name].Cache = cache
	}

	out := make([]coordinate.Repository, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	if len(out) == 0 {
		return []coordinate.Repository{Default()}, nil
	}
	return out, nil
}

// Default returns the built-in Maven Central repository used when no
// build/repositories.hcl file declares any repositories.
func Default() coordinate.Repository {
	return coordinate.Repository{
		Name:           DefaultRepositoryName,
		URL:            DefaultRepositoryURL,
		ChecksumPolicy: coordinate.ChecksumFail,
		Authoritative:  true,
	}
}
