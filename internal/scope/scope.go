// Package scope implements the layered, memoized scope graph that key
// lookups are resolved against. Scope itself is decoupled from the key
// package's concrete Project/Configuration/Archetype types: it operates on
// small interfaces (Holder, ExtensionProvider, Configuration) so that
// internal/key can depend on internal/scope for its generic Get/Bind helpers
// without creating an import cycle back the other way.
package scope

import (
	"fmt"
	"log/slog"
	"sync"
)

// BindingFunc is the type-erased form of a binding: a function of the
// current evaluation Context producing a value. internal/key wraps/unwraps
// these behind its generic Key[V] API.
type BindingFunc func(ctx *Context) (any, error)

// ModifierFunc is the type-erased form of a modifier: it transforms a
// produced value within the current Context.
type ModifierFunc func(ctx *Context, v any) (any, error)

// Holder is anything that can carry bindings and modifiers for keys,
// identified by their process-unique id. Project, Configuration, Archetype
// and ConfigurationExtension (internal/key) all implement Holder.
type Holder interface {
	// HolderName is a display name used in tracing; it need not be unique.
	HolderName() string
	// LookupBinding returns the binding registered for keyID on this
	// holder, if any.
	LookupBinding(keyID uint64) (BindingFunc, bool)
	// LookupModifiers returns the ordered modifiers registered for keyID
	// on this holder, in declaration order.
	LookupModifiers(keyID uint64) []ModifierFunc
}

// ExtensionProvider is implemented by holders that can declare
// ConfigurationExtensions targeting other configurations by name.
type ExtensionProvider interface {
	// Extension returns the extension holder this provider attaches to
	// the named configuration, if any.
	Extension(configName string) (Holder, bool)
}

// Configuration is the subset of internal/key.Configuration (and Archetype)
// that the layering algorithm needs: a Holder with a name and an optional
// parent to walk, plus whatever extensions it declares.
type Configuration interface {
	Holder
	// ConfigName is the configuration's declared name, used to match
	// against ExtensionProvider.Extension lookups.
	ConfigName() string
	// Parent returns the configuration this one extends, if any.
	Parent() (Configuration, bool)
}

// Engine evaluates a key, identified only by its process-unique id, within
// a Context. It is implemented by internal/evaluator.Evaluator; key.Get
// delegates to it after erasing the key's type, and re-applies the type
// after the call returns.
//
// computeDefault is invoked by the engine only if no binding is found
// anywhere along the scope chain; it returns the key's default value and
// whether one exists. This lets modifiers collected along the walk apply
// uniformly whether the final value came from a binding or from a default.
type Engine interface {
	Evaluate(ctx *Context, keyID uint64, computeDefault func() (any, bool)) (any, error)
}

// Scope is an immutable node in the scope graph: an ordered list of holders
// (most-significant first) plus an optional parent scope to continue the
// walk into. Scopes for a given (parent, configuration-stack) pair are
// memoized by the Table that constructs them, so two Layer calls with the
// same arguments return the identical *Scope.
type Scope struct {
	name    string
	holders []Holder
	parent  *Scope
}

// Root creates the base scope for a project: a scope with the given holders
// and no parent. Per the data model, a project's base scope is
// {project, archetype0, archetype0.parent, ..., archetypeN, archetypeN.parent}.
func Root(name string, holders ...Holder) *Scope {
	return &Scope{name: name, holders: append([]Holder(nil), holders...)}
}

// Name returns the scope's display name.
func (s *Scope) Name() string { return s.name }

// Holders returns the scope's own holder list (not including ancestors),
// most-significant first. Callers must not mutate the returned slice.
func (s *Scope) Holders() []Holder { return s.holders }

// Parent returns the enclosing scope, or nil if s is a root scope.
func (s *Scope) Parent() *Scope { return s.parent }

// String implements fmt.Stringer for tracing.
func (s *Scope) String() string {
	if s == nil {
		return "<nil scope>"
	}
	return fmt.Sprintf("scope(%s)", s.name)
}

// Context is the environment threaded through binding and modifier
// functions: the scope they are executing in, the engine to recurse back
// into for nested key evaluation, and an input source for parameter
// sourcing (internal/input). Context also exposes a cancellation channel
// per the cooperative-cancellation model.
type Context struct {
	Scope  *Scope
	Engine Engine
	Input  InputSource
	Done   <-chan struct{}
	Logger *slog.Logger
	// Feature, if set, reports a tagged non-fatal event to the evaluator's
	// listener — used by internal/evalcache to report cache hits without
	// internal/evalcache depending on internal/evaluator.
	Feature func(tag string)
}

// ReportFeature invokes ctx.Feature if one is installed, a no-op
// otherwise.
func (c *Context) ReportFeature(tag string) {
	if c.Feature != nil {
		c.Feature(tag)
	}
}

// InputSource is the minimal surface internal/key's Get-time input reading
// needs; internal/input.Session implements it.
type InputSource interface {
	Read(name string) (value string, ok bool)
}

// Cancelled reports whether the context's cancellation channel has fired.
// Long-running bindings are expected to poll this cooperatively.
func (c *Context) Cancelled() bool {
	if c.Done == nil {
		return false
	}
	select {
	case <-c.Done:
		return true
	default:
		return false
	}
}

// layerKey identifies a memoized scope by the identity of its parent and
// the configuration stack (by pointer-equal Configuration values expressed
// as their ConfigName, which is unique enough for memoization purposes
// because holders are only ever constructed once and never copied).
type layerKey struct {
	parent *Scope
	stack  string
}

// Table memoizes Layer results so that layering the same configuration
// stack onto the same parent scope always returns the identical *Scope
// object, as required by the structural-identity invariant.
type Table struct {
	mu    sync.Mutex
	cache map[layerKey]*Scope
}

// NewTable creates an empty memoization table. One Table is normally owned
// by an Evaluator and shared across all Layer calls for its lifetime.
func NewTable() *Table {
	return &Table{cache: make(map[layerKey]*Scope)}
}

// Layer computes the scope produced by layering configuration c (and its
// parent chain) onto s, per the data model's layering rule:
//
//  1. Any holder already in s's chain that declares an extension targeting
//     c, or targeting any ancestor of c, is expanded above the holder it
//     extends — recursively, so extensions-of-extensions surface too.
//  2. c itself, then its parents in order, are appended below those
//     extensions.
//
// Results are memoized by (s, c's name chain): repeated calls with the
// same arguments return the identical *Scope.
func (t *Table) Layer(s *Scope, c Configuration) *Scope {
	stack := configStack(c)
	key := layerKey{parent: s, stack: stack}

	t.mu.Lock()
	if cached, ok := t.cache[key]; ok {
		t.mu.Unlock()
		return cached
	}
	t.mu.Unlock()

	holders := buildLayeredHolders(s, c)
	result := &Scope{name: stack, holders: holders, parent: s}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cached, ok := t.cache[key]; ok {
		return cached
	}
	t.cache[key] = result
	return result
}

func configStack(c Configuration) string {
	names := make([]string, 0, 4)
	for cur, ok := c, true; ok; {
		names = append(names, cur.ConfigName())
		cur, ok = cur.Parent()
	}
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ":"
		}
		out += n
	}
	return out
}

// buildLayeredHolders implements the extension-discovery + configuration
// chain described on Table.Layer's doc comment.
func buildLayeredHolders(s *Scope, c Configuration) []Holder {
	var extensions []Holder
	visited := make(map[Holder]bool)

	configChain := configurationChain(c)
	for _, existing := range collectAncestorHolders(s) {
		provider, ok := existing.(ExtensionProvider)
		if !ok {
			continue
		}
		for _, target := range configChain {
			ext, found := provider.Extension(target.ConfigName())
			if !found || visited[ext] {
				continue
			}
			visited[ext] = true
			extensions = append(extensions, ext)
			extensions = append(extensions, expandNestedExtensions(s, ext, visited)...)
		}
	}

	holders := make([]Holder, 0, len(extensions)+len(configChain))
	holders = append(holders, extensions...)
	for _, cfg := range configChain {
		holders = append(holders, cfg)
	}
	return holders
}

// expandNestedExtensions recursively discovers extensions targeting the
// configurations that ext itself extends, realizing "extensions-of-
// extensions" from the data model's layering rule.
func expandNestedExtensions(s *Scope, ext Holder, visited map[Holder]bool) []Holder {
	cfg, ok := ext.(Configuration)
	if !ok {
		return nil
	}
	var found []Holder
	for _, existing := range collectAncestorHolders(s) {
		provider, ok := existing.(ExtensionProvider)
		if !ok {
			continue
		}
		for _, target := range configurationChain(cfg) {
			nested, present := provider.Extension(target.ConfigName())
			if !present || visited[nested] {
				continue
			}
			visited[nested] = true
			found = append(found, nested)
			found = append(found, expandNestedExtensions(s, nested, visited)...)
		}
	}
	return found
}

// configurationChain returns c followed by its parents, most-specific
// first.
func configurationChain(c Configuration) []Configuration {
	var chain []Configuration
	for cur, ok := c, true; ok; {
		chain = append(chain, cur)
		cur, ok = cur.Parent()
	}
	return chain
}

// collectAncestorHolders flattens s's own holders plus every holder in its
// ancestor chain, most-significant (closest) first.
func collectAncestorHolders(s *Scope) []Holder {
	var all []Holder
	for cur := s; cur != nil; cur = cur.parent {
		all = append(all, cur.holders...)
	}
	return all
}
