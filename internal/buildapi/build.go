// Package buildapi is the build-script surface: it wires internal/key,
// internal/scope, internal/resolver and internal/assembly into the small
// set of well-known keys a build script binds and a query asks for,
// standing in for the out-of-scope script compiler per SPEC_FULL.md §4.
// A build script is ordinary Go code that constructs a *Build, binds or
// overrides keys on its Project, and hands the result to internal/cli.
package buildapi

import (
	"context"
	"path/filepath"
	"time"

	"github.com/crucible-build/crucible/internal/cli"
	"github.com/crucible-build/crucible/internal/evaluator"
	"github.com/crucible-build/crucible/internal/key"
	"github.com/crucible-build/crucible/internal/scope"
)

// Build owns a project's key graph and the registries needed to expose it
// through internal/cli.
type Build struct {
	Project   *key.Project
	Evaluator *evaluator.Evaluator
	Registry  *Registry
	Configs   *Configs

	flags flagState
}

// flagState holds the last values passed to ApplyFlags, consulted by the
// Offline/Workers key bindings below. It is mutated exactly once per CLI
// invocation (from cli.App.ApplyFlags), never read from inside a binding's
// ambient context — only through the Offline/Workers keys themselves.
type flagState struct {
	offline bool
	workers int
}

// New creates a Build for a project rooted at dir, with the standard keys
// (Repositories, Offline, Workers, CacheDir, ResolvedGraph, Classpath and
// the assembly keys) already bound to their default implementations.
// Dependencies is left unbound. Callers bind Dependencies, add their own
// keys and override any of the standard ones before calling Project.Lock.
func New(name, dir string) *Build {
	b := &Build{
		Project:   key.NewProject(name, dir),
		Evaluator: evaluator.New(),
		Registry:  NewRegistry(),
		Configs:   NewConfigs(),
	}
	b.flags.workers = 0 // Options.Workers==0 means resolver.DefaultWorkers
	bindDefaults(b)
	registerDefaults(b)
	return b
}

// App builds the internal/cli.App wiring this Build into the query
// command surface. Call this once Project is locked.
func (b *Build) App() *cli.App {
	return &cli.App{
		BaseScope:  b.Project.BaseScope(),
		Table:      b.Evaluator.Table(),
		Evaluator:  b.Evaluator,
		Configs:    b.Configs,
		Keys:       b.Registry,
		ApplyFlags: b.applyFlags,
	}
}

func (b *Build) applyFlags(offline bool, workers int) {
	b.flags.offline = offline
	b.flags.workers = workers
}

// CacheRoot returns the default local repository cache directory under
// dir, used as CacheDir's default value.
func CacheRoot(dir string) string {
	return filepath.Join(dir, ".crucible", "cache")
}

// backgroundFromScope bridges a scope.Context's cooperative-cancellation
// channel into a context.Context, so internal/resolver (which needs a
// real context.Context for its errgroup fan-out) can be driven from a
// binding without the binding importing anything beyond what ctx already
// carries. It does not introduce new ambient state: Done is the same
// channel already exposed on scope.Context.
func backgroundFromScope(ctx *scope.Context) context.Context {
	return doneContext{done: ctx.Done}
}

type doneContext struct{ done <-chan struct{} }

func (d doneContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (d doneContext) Done() <-chan struct{}       { return d.done }
func (d doneContext) Err() error {
	select {
	case <-d.done:
		return context.Canceled
	default:
		return nil
	}
}
func (d doneContext) Value(any) any { return nil }

var _ context.Context = doneContext{}
