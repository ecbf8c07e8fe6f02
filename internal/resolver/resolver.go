// Package resolver computes the transitive Maven dependency graph: version
// mediation ("nearest wins, then first-declared wins"), scope propagation,
// exclusion and optional pruning, snapshot handling and per-node artifact
// fetch with checksum verification. Concurrency is a bounded worker pool
// per breadth-first level, grounded on both the teacher's
// internal/executor/worker.go fan-out/fan-in pattern and
// matzehuels-stacktower/pkg/deps/resolver.go's crawler (jobs/results
// channels, atomic pending counter, mutex-guarded visited set).
package resolver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/crucible-build/crucible/internal/coordinate"
	"github.com/crucible-build/crucible/internal/fetch"
	"github.com/crucible-build/crucible/internal/pom"
)

// DefaultWorkers mirrors the teacher's default worker pool size.
const DefaultWorkers = 10

// Rewrite transforms a dependency id before it is fetched, e.g. to append
// a "sources" classifier, per spec §4.2's "input" description.
type Rewrite func(coordinate.ID) coordinate.ID

// Options configures a resolution pass.
type Options struct {
	// Workers bounds fetch concurrency per BFS level. Zero means
	// DefaultWorkers.
	Workers int
	// Offline disables remote fetches; only cache/local repositories are
	// consulted.
	Offline bool
	// CacheDir is the directory holding the fetch client's metadata
	// staleness cache. Write-through caching goes to the file-scheme
	// repositories in the chain, not to CacheDir.
	CacheDir string
}

// Result is the output of a resolution pass: a mapping from DependencyId
// (rendered canonically) to ResolvedDependency, plus a completion flag.
type Result struct {
	Nodes    map[string]*coordinate.ResolvedDependency
	Complete bool
}

// FailedNode names one node that failed to resolve, for ResolutionError's
// structured failure set.
type FailedNode struct {
	ID  coordinate.ID
	Log string
}

// ResolutionError reports every node that failed to resolve in one pass,
// per spec §4.2's "Failure semantics": per-dependency failures are
// recorded and resolution continues so the caller sees the full failure
// set at once, rather than stopping at the first one.
type ResolutionError struct {
	Nodes []FailedNode
}

func (e *ResolutionError) Error() string {
	if len(e.Nodes) == 1 {
		return fmt.Sprintf("resolver: failed to resolve %s: %s", e.Nodes[0].ID, e.Nodes[0].Log)
	}
	return fmt.Sprintf("resolver: failed to resolve %d dependencies", len(e.Nodes))
}

// Err returns a *ResolutionError listing every failed node when r is
// incomplete, or nil when resolution fully succeeded.
func (r *Result) Err() error {
	if r.Complete {
		return nil
	}
	var failed []FailedNode
	for _, n := range r.Nodes {
		if n.HasError() {
			failed = append(failed, FailedNode{ID: n.ID, Log: n.Log})
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].ID.String() < failed[j].ID.String() })
	return &ResolutionError{Nodes: failed}
}

// CycleError is returned when the root dependency set contains a cycle at
// the project level, per spec §7 error kind 7: fatal, detected at
// resolution entry, no recovery.
type CycleError struct {
	Path []coordinate.ID
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = id.GA()
	}
	return fmt.Sprintf("resolver: cyclic dependency: %s", joinArrow(parts))
}

func joinArrow(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " -> "
		}
		out += p
	}
	return out
}

// scopeTable implements spec §4.2 step 5's Maven scope-propagation table.
var scopeTable = map[coordinate.Scope]map[coordinate.Scope]coordinate.Scope{
	coordinate.ScopeCompile: {
		coordinate.ScopeCompile: coordinate.ScopeCompile,
		coordinate.ScopeRuntime: coordinate.ScopeRuntime,
	},
	coordinate.ScopeRuntime: {
		coordinate.ScopeCompile: coordinate.ScopeRuntime,
		coordinate.ScopeRuntime: coordinate.ScopeRuntime,
	},
	coordinate.ScopeTest: {
		coordinate.ScopeCompile: coordinate.ScopeTest,
		coordinate.ScopeRuntime: coordinate.ScopeTest,
	},
	coordinate.ScopeProvided: {
		coordinate.ScopeCompile: coordinate.ScopeProvided,
		coordinate.ScopeRuntime: coordinate.ScopeProvided,
	},
}

func propagate(parent, declared coordinate.Scope) (coordinate.Scope, bool) {
	row, ok := scopeTable[parent]
	if !ok {
		return "", false
	}
	s, ok := row[declared]
	return s, ok
}

// pending is one edge waiting to be visited: the dependency as declared,
// its depth from the nearest root, the chain of ids that required it, a
// monotonic declaration sequence for tie-breaking, and the exclusion set
// inherited from its ancestors.
type pending struct {
	dep        coordinate.Dependency
	depth      int
	requiredBy []coordinate.ID
	sequence   int
	exclusions []coordinate.Exclusion
	effScope   coordinate.Scope
}

// winner tracks the mediation state for one (group, name) pair.
type winner struct {
	id       coordinate.ID
	depth    int
	sequence int
}

// Resolve runs the full algorithm described in spec §4.2 against roots.
func Resolve(ctx context.Context, roots []coordinate.Dependency, repos []coordinate.Repository, rewrite Rewrite, opts Options) (*Result, error) {
	if err := detectRootCycles(roots); err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	orderedRepos := fetch.OrderChain(repos)
	client, err := fetch.NewClient(opts.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	if rewrite == nil {
		rewrite = func(id coordinate.ID) coordinate.ID { return id }
	}

	nodes := make(map[string]*coordinate.ResolvedDependency)
	mediation := make(map[string]*winner)
	var mu sync.Mutex
	seq := 0

	level := make([]pending, 0, len(roots))
	for _, r := range roots {
		level = append(level, pending{dep: r, depth: 0, requiredBy: nil, sequence: seq, exclusions: r.Exclusions, effScope: r.Scope})
		seq++
	}

	complete := true

	for len(level) > 0 {
		winners := mediateLevel(level, mediation)

		// childrenByWinner is pre-sized and each goroutine only ever writes
		// its own index, so no mutex is needed to keep the next level's
		// assembly deterministic: flattening below walks it in winners'
		// order (itself "nearest wins, then first-declared wins" order)
		// regardless of which fetch happened to finish first.
		childrenByWinner := make([][]pending, len(winners))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)

		for i, p := range winners {
			i, p := i, p
			g.Go(func() error {
				id := rewrite(p.dep.ID)
				resolved, pomProject, ferr := resolveOne(gctx, client, id, orderedRepos, opts)

				mu.Lock()
				nodes[id.String()] = resolved
				mu.Unlock()

				if ferr != nil {
					mu.Lock()
					complete = false
					mu.Unlock()
					return nil // per spec, continue resolving other branches
				}
				if p.effScope == coordinate.ScopeTest || p.effScope == coordinate.ScopeSystem {
					return nil // test/system scopes never propagate further
				}

				childrenByWinner[i] = expandChildren(pomProject, p)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var next []pending
		for _, children := range childrenByWinner {
			for _, c := range children {
				c.sequence = seq
				seq++
				next = append(next, c)
			}
		}
		level = next
	}

	return &Result{Nodes: nodes, Complete: complete}, nil
}

// mediateLevel applies "nearest wins, then first-declared wins" across one
// BFS level against the running mediation table, returning only the
// dependencies that win (and therefore need fetching). Losers are dropped:
// they are not added to Result.Nodes, and nothing marks them as overridden.
//
// Winner selection happens in a full pass over level before anything is
// returned: a single-pass version that appended to the result as soon as
// an entry beat the running mediation table would add a later-overtaken
// entry to the result and never remove it once a nearer or
// earlier-declared sibling replaced it at the same position, fetching
// both the eventual winner and its displaced loser.
func mediateLevel(level []pending, mediation map[string]*winner) []pending {
	winningIdx := make(map[string]int, len(level))
	for i, p := range level {
		ga := p.dep.ID.GA()
		cur, exists := mediation[ga]
		if !exists || p.depth < cur.depth || (p.depth == cur.depth && p.sequence < cur.sequence) {
			mediation[ga] = &winner{id: p.dep.ID, depth: p.depth, sequence: p.sequence}
			winningIdx[ga] = i
		}
	}

	result := make([]pending, 0, len(winningIdx))
	for i, p := range level {
		if winningIdx[p.dep.ID.GA()] == i {
			result = append(result, p)
		}
	}
	return result
}

// resolveOne fetches and parses id's POM (inheriting parents), selects its
// concrete artifact type, fetches the artifact, and verifies its checksum.
func resolveOne(ctx context.Context, client *fetch.Client, id coordinate.ID, repos []coordinate.Repository, opts Options) (*coordinate.ResolvedDependency, *pom.Project, error) {
	node := &coordinate.ResolvedDependency{ID: id}

	if opts.Offline {
		repos = onlyLocalOrCache(repos)
	}

	pomData, repo, err := client.FetchPOM(ctx, id, repos)
	if err != nil {
		node.Log = err.Error()
		return node, nil, err
	}

	raw, err := pom.ParseOne(pomData)
	if err != nil {
		node.Log = err.Error()
		return node, nil, err
	}

	project, err := pom.Resolve(raw, func(g, a, v string) ([]byte, error) {
		data, _, ferr := client.FetchPOM(ctx, coordinate.ID{Group: g, Name: a, Version: v, Type: "pom"}, repos)
		return data, ferr
	})
	if err != nil {
		node.Log = err.Error()
		return node, nil, err
	}

	node.ResolvedFrom = repo
	artifactType := id.Type
	if artifactType == coordinate.TypeChooseByPackaging || artifactType == "" {
		artifactType = project.PackagingOrDefault()
	}
	node.Transitive = project.Dependencies

	if artifactType == "pom" {
		return node, &project, nil
	}

	artifactID := id
	artifactID.Type = artifactType
	policy := coordinate.ChecksumFail
	if repo != nil {
		policy = repo.ChecksumPolicy
	}
	data, artRepo, err := client.FetchArtifact(ctx, artifactID, repos, policy)
	if err != nil {
		node.Log = err.Error()
		return node, &project, err
	}
	node.Artifact = coordinate.NewArtifactPath(artifactID.String(), artRepo, artifactID.String(), false, func() ([]byte, error) {
		return data, nil
	})
	return node, &project, nil
}

func onlyLocalOrCache(repos []coordinate.Repository) []coordinate.Repository {
	var out []coordinate.Repository
	for _, r := range repos {
		if r.Local || r.IsFileScheme() {
			out = append(out, r)
		}
	}
	return out
}

// expandChildren computes the next BFS level's pending edges from a
// resolved node's POM, applying dependency management, scope propagation,
// exclusion pruning and optional pruning per spec §4.2 steps 4-6.
func expandChildren(project *pom.Project, parent pending) []pending {
	if project == nil {
		return nil
	}
	var out []pending
	requiredBy := append(append([]coordinate.ID{}, parent.requiredBy...), parent.dep.ID)

	for _, decl := range project.Dependencies {
		decl = pom.ApplyManagement(decl, project.DependencyManagement)
		decl = pom.ApplyManagement(decl, parent.dep.DependencyManagement)
		decl = pom.DefaultScope(decl)

		if decl.Optional {
			continue // optional transitive dependencies pruned by default
		}
		if excluded(decl.ID, parent.exclusions) {
			continue
		}

		effScope, ok := propagate(parent.effScope, decl.Scope)
		if !ok {
			continue
		}

		out = append(out, pending{
			dep:        decl,
			depth:      parent.depth + 1,
			requiredBy: requiredBy,
			exclusions: append(append([]coordinate.Exclusion{}, parent.exclusions...), decl.Exclusions...),
			effScope:   effScope,
		})
	}
	return out
}

func excluded(id coordinate.ID, exclusions []coordinate.Exclusion) bool {
	for _, ex := range exclusions {
		if ex.Matches(id) {
			return true
		}
	}
	return false
}

// detectRootCycles runs a three-color DFS over the root dependency set's
// own declared dependency-management cross-references, generalizing the
// teacher's internal/dag/dag.go DetectCycles from string node ids to
// coordinate.ID. A genuine cycle can only arise here from manually
// authored root sets (e.g. two build-script-level project dependencies
// declaring each other), since POM-derived transitive edges are
// naturally acyclic once version-mediated.
func detectRootCycles(roots []coordinate.Dependency) error {
	byGA := make(map[string]coordinate.Dependency)
	for _, r := range roots {
		byGA[r.ID.GA()] = r
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int)
	var path []coordinate.ID

	var visit func(ga string) error
	visit = func(ga string) error {
		switch state[ga] {
		case done:
			return nil
		case visiting:
			return &CycleError{Path: append(path, byGA[ga].ID)}
		}
		dep, ok := byGA[ga]
		if !ok {
			return nil
		}
		state[ga] = visiting
		path = append(path, dep.ID)
		for _, mgmt := range dep.DependencyManagement {
			if err := visit(mgmt.ID.GA()); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[ga] = done
		return nil
	}

	gas := make([]string, 0, len(byGA))
	for ga := range byGA {
		gas = append(gas, ga)
	}
	sort.Strings(gas)
	for _, ga := range gas {
		if err := visit(ga); err != nil {
			return err
		}
	}
	return nil
}
