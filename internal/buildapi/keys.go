package buildapi

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/crucible-build/crucible/internal/assembly"
	"github.com/crucible-build/crucible/internal/coordinate"
	"github.com/crucible-build/crucible/internal/key"
	"github.com/crucible-build/crucible/internal/resolver"
	"github.com/crucible-build/crucible/internal/scope"
	"github.com/crucible-build/crucible/internal/settings"
)

// Standard keys every Build exposes. A build script reads or rebinds any
// of these the same way it would one of its own keys; Classpath and
// ResolvedGraph are the only ones most scripts need to consume.
var (
	// Dependencies is the project's own declared root dependencies. A
	// build script must bind this; New leaves it unbound (no sensible
	// default), so evaluating it before binding fails with
	// evaluator.ErrKeyNotAssigned.
	Dependencies = key.New[[]coordinate.Dependency]("dependencies", "declared root dependencies for this project")

	// Repositories is the repository chain consulted by the resolver, in
	// search order. Defaults to loading build/repositories.hcl relative
	// to the project root, falling back to Maven Central alone.
	Repositories = key.New[[]coordinate.Repository]("repositories", "artifact repository chain")

	// Offline mirrors the --offline flag; a build script's own
	// Repositories binding can read it to prune to local/cache
	// repositories before the resolver ever sees the network.
	Offline = key.New[bool]("offline", "disable remote fetches", key.WithDefault(false))

	// Workers bounds resolver fetch concurrency, mirroring --workers.
	Workers = key.New[int]("workers", "resolver worker pool size", key.WithDefault(resolver.DefaultWorkers))

	// CacheDir is the local repository cache root.
	CacheDir = key.New[string]("cache-dir", "local repository cache directory")

	// ResolvedGraph is the full output of a resolution pass: every
	// resolved node plus whether resolution completed without failures.
	ResolvedGraph = key.New[*resolver.Result]("resolved-dependencies", "resolved dependency graph")

	// Classpath flattens ResolvedGraph into materialized, on-disk jar
	// paths in a stable order, suitable for feeding to assembly.Input or
	// a launched JVM.
	Classpath = key.New[[]string]("classpath", "resolved classpath jar paths")

	// AssemblyInputs lists the classpath entries (plus the project's own
	// output) to flatten into OutputArchive. Defaults to Classpath's
	// entries as non-owned library inputs.
	AssemblyInputs = key.New[[]assembly.Input]("assembly-inputs", "entries to flatten into the output archive")

	// OutputArchive is the path Assemble writes its flattened archive to.
	OutputArchive = key.New[string]("output-archive", "output path for the assembled archive")

	// CompressOutput controls whether Assemble deflates archive entries or
	// stores them uncompressed. Defaults to true, matching a typical jar.
	CompressOutput = key.New[bool]("compress-output", "deflate archive entries", key.WithDefault(true))

	// Assemble runs internal/assembly.Assemble over AssemblyInputs and
	// returns OutputArchive's path once written.
	Assemble = key.New[string]("assemble", "assemble the classpath into a single archive")
)

func bindDefaults(b *Build) {
	h := b.Project.BindingHolder

	key.Bind(h, Repositories, func(sctx *scope.Context) ([]coordinate.Repository, error) {
		path := filepath.Join(b.Project.Root, "build", "repositories.hcl")
		return settings.Load(path)
	})

	key.Bind(h, Offline, func(sctx *scope.Context) (bool, error) {
		return b.flags.offline, nil
	})

	key.Bind(h, Workers, func(sctx *scope.Context) (int, error) {
		if b.flags.workers > 0 {
			return b.flags.workers, nil
		}
		return resolver.DefaultWorkers, nil
	})

	key.Bind(h, CacheDir, func(sctx *scope.Context) (string, error) {
		return CacheRoot(b.Project.Root), nil
	})

	key.Bind(h, ResolvedGraph, func(sctx *scope.Context) (*resolver.Result, error) {
		deps, err := key.Get(sctx, Dependencies)
		if err != nil {
			return nil, err
		}
		repos, err := key.Get(sctx, Repositories)
		if err != nil {
			return nil, err
		}
		offline, err := key.Get(sctx, Offline)
		if err != nil {
			return nil, err
		}
		workers, err := key.Get(sctx, Workers)
		if err != nil {
			return nil, err
		}
		cacheDir, err := key.Get(sctx, CacheDir)
		if err != nil {
			return nil, err
		}

		result, err := resolver.Resolve(backgroundFromScope(sctx), deps, repos, nil, resolver.Options{
			Workers:  workers,
			Offline:  offline,
			CacheDir: cacheDir,
		})
		if err != nil {
			return nil, err
		}
		sctx.ReportFeature("resolved")
		return result, nil
	})

	key.Bind(h, Classpath, func(sctx *scope.Context) ([]string, error) {
		graph, err := key.Get(sctx, ResolvedGraph)
		if err != nil {
			return nil, err
		}
		if err := graph.Err(); err != nil {
			return nil, err
		}
		cacheDir, err := key.Get(sctx, CacheDir)
		if err != nil {
			return nil, err
		}
		return materializeClasspath(graph, cacheDir)
	})

	key.Bind(h, AssemblyInputs, func(sctx *scope.Context) ([]assembly.Input, error) {
		paths, err := key.Get(sctx, Classpath)
		if err != nil {
			return nil, err
		}
		inputs := make([]assembly.Input, 0, len(paths))
		for _, p := range paths {
			inputs = append(inputs, assembly.Input{Archive: p, ExtractEntries: true})
		}
		return inputs, nil
	})

	key.Bind(h, OutputArchive, func(sctx *scope.Context) (string, error) {
		return filepath.Join(b.Project.Root, "build", "output", b.Project.ProjectName+".jar"), nil
	})

	key.Bind(h, Assemble, func(sctx *scope.Context) (string, error) {
		inputs, err := key.Get(sctx, AssemblyInputs)
		if err != nil {
			return "", err
		}
		out, err := key.Get(sctx, OutputArchive)
		if err != nil {
			return "", err
		}
		compress, err := key.Get(sctx, CompressOutput)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return "", fmt.Errorf("buildapi: create output dir: %w", err)
		}
		if err := assembly.Assemble(inputs, out, assembly.Options{Compress: compress}); err != nil {
			return "", err
		}
		return out, nil
	})
}

// materializeClasspath writes every resolved node's artifact bytes to a
// stable path under cacheDir/classpath and returns the resulting paths in
// a deterministic order (sorted by coordinate id), so two resolutions of
// the same graph produce the same classpath ordering regardless of BFS
// fetch-completion order.
func materializeClasspath(result *resolver.Result, cacheDir string) ([]string, error) {
	ids := make([]string, 0, len(result.Nodes))
	for id := range result.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	dir := filepath.Join(cacheDir, "classpath")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("buildapi: create classpath dir: %w", err)
	}

	paths := make([]string, 0, len(ids))
	for _, id := range ids {
		node := result.Nodes[id]
		if node.Artifact == nil {
			continue
		}
		data, err := node.Artifact.Data()
		if err != nil {
			return nil, fmt.Errorf("buildapi: read artifact %s: %w", id, err)
		}
		dest := filepath.Join(dir, sanitizeFilename(id)+"."+artifactExt(node.ID))
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return nil, fmt.Errorf("buildapi: write %s: %w", dest, err)
		}
		paths = append(paths, dest)
	}
	return paths, nil
}

func artifactExt(id coordinate.ID) string {
	if id.Type == "" || id.Type == coordinate.TypeChooseByPackaging {
		return "jar"
	}
	return id.Type
}

func sanitizeFilename(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
