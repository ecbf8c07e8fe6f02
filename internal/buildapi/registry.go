package buildapi

import (
	"github.com/crucible-build/crucible/internal/cli"
	"github.com/crucible-build/crucible/internal/evaluator"
	"github.com/crucible-build/crucible/internal/key"
	"github.com/crucible-build/crucible/internal/scope"
)

// Registry is a name-addressed key.Key[V] lookup table implementing
// cli.KeyRegistry: the CLI's query surface only ever needs to evaluate a
// key by the name a query string names, never its static V.
type Registry struct {
	byName map[string]cli.KeyEvaluator
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]cli.KeyEvaluator)}
}

// Register makes k queryable under name, evaluating it against e whenever
// looked up. Re-registering a name replaces the previous entry.
func Register[V any](r *Registry, e *evaluator.Evaluator, name string, k key.Key[V]) {
	r.byName[name] = func(sctx *scope.Context) (any, error) {
		return evaluator.Evaluate(e, sctx, k)
	}
}

// Lookup implements cli.KeyRegistry.
func (r *Registry) Lookup(name string) (cli.KeyEvaluator, bool) {
	fn, ok := r.byName[name]
	return fn, ok
}

// Configs is a name-addressed scope.Configuration lookup table
// implementing cli.ConfigResolver, resolving the 'cfg:name' segments a
// query string's Command.Configs names.
type Configs struct {
	byName map[string]scope.Configuration
}

// NewConfigs creates an empty Configs.
func NewConfigs() *Configs {
	return &Configs{byName: make(map[string]scope.Configuration)}
}

// Register makes cfg resolvable under name. Re-registering a name
// replaces the previous entry.
func (c *Configs) Register(name string, cfg scope.Configuration) {
	c.byName[name] = cfg
}

// Resolve implements cli.ConfigResolver.
func (c *Configs) Resolve(name string) (scope.Configuration, bool) {
	cfg, ok := c.byName[name]
	return cfg, ok
}

// registerDefaults exposes every standard key under its Key.Name() so a
// build script gets "classpath", "assemble", etc. for free; scripts
// register their own keys the same way via Register.
func registerDefaults(b *Build) {
	Register(b.Registry, b.Evaluator, Dependencies.Name(), Dependencies)
	Register(b.Registry, b.Evaluator, Repositories.Name(), Repositories)
	Register(b.Registry, b.Evaluator, Offline.Name(), Offline)
	Register(b.Registry, b.Evaluator, Workers.Name(), Workers)
	Register(b.Registry, b.Evaluator, CacheDir.Name(), CacheDir)
	Register(b.Registry, b.Evaluator, ResolvedGraph.Name(), ResolvedGraph)
	Register(b.Registry, b.Evaluator, Classpath.Name(), Classpath)
	Register(b.Registry, b.Evaluator, AssemblyInputs.Name(), AssemblyInputs)
	Register(b.Registry, b.Evaluator, OutputArchive.Name(), OutputArchive)
	Register(b.Registry, b.Evaluator, CompressOutput.Name(), CompressOutput)
	Register(b.Registry, b.Evaluator, Assemble.Name(), Assemble)
}
