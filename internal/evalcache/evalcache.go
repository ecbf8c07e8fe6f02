// Package evalcache unifies the three ad hoc caching flavors a binding may
// want — Static, LazyStatic and InputCached — behind one generic type,
// Cached[V], parameterized by a fingerprint function and a compute
// function, per the "unify as a single Cached{fingerprint-fn, compute-fn}
// trait" design note.
package evalcache

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/crucible-build/crucible/internal/key"
	"github.com/crucible-build/crucible/internal/scope"
)

// Fingerprint identifies the inputs a cached computation depended on. Two
// evaluations with equal fingerprints are assumed to produce equal
// results; Cached never compares the results themselves.
type Fingerprint string

// Cached wraps a compute function with a fingerprinting strategy so that
// repeated evaluations with an unchanged fingerprint return the previously
// computed value instead of recomputing it. A Cached[V] is safe for
// concurrent use by multiple evaluator activations (evaluation is already
// serialized by the single-active-evaluation invariant, but the cache
// itself does not rely on that).
type Cached[V any] struct {
	mu          sync.Mutex
	fingerprint func(ctx *scope.Context) (Fingerprint, error)
	compute     func(ctx *scope.Context) (V, error)
	have        bool
	lastFp      Fingerprint
	lastVal     V
	expireNow   bool
	expireWith  map[string]string // path -> last observed stamp
	expireWhen  func() bool
}

// Static returns a Cached that always returns value, regardless of scope,
// and never invokes a compute function. It matches spec §4.1's "Static"
// flavor.
func Static[V any](value V) *Cached[V] {
	return &Cached[V]{
		fingerprint: func(*scope.Context) (Fingerprint, error) { return "static", nil },
		compute:     func(*scope.Context) (V, error) { return value, nil },
	}
}

// LazyStatic returns a Cached that invokes compute at most once (via
// sync.Once semantics), memoizing its result for every subsequent call
// regardless of scope. It matches spec §4.1's "LazyStatic" flavor.
func LazyStatic[V any](compute func(ctx *scope.Context) (V, error)) *Cached[V] {
	var once sync.Once
	var val V
	var computeErr error
	return &Cached[V]{
		fingerprint: func(*scope.Context) (Fingerprint, error) { return "lazy-static", nil },
		compute: func(ctx *scope.Context) (V, error) {
			once.Do(func() { val, computeErr = compute(ctx) })
			return val, computeErr
		},
	}
}

// FileStamp is one element of an InputCached fingerprint: a file path and
// its last-modified time in milliseconds, per spec §4.1's "Fingerprint
// elements record file-paths by (path, last-modified-ms)". Collections of
// paths are wrapped element-wise by passing multiple FileStamps.
type FileStamp struct {
	Path string
}

// stamp reads the current (path, mtime-ms) pair for f. A missing file
// fingerprints as "missing" so that its appearance or removal always
// changes the fingerprint.
func (f FileStamp) stamp() string {
	info, err := os.Stat(f.Path)
	if err != nil {
		return f.Path + "=missing"
	}
	return fmt.Sprintf("%s=%d", f.Path, info.ModTime().UnixMilli())
}

// InputCached returns a Cached that fingerprints on the mtimes of the
// given paths (re-evaluated on every call) and re-invokes compute only
// when that fingerprint changes from the previously observed one. It
// matches spec §4.1's "InputCached" flavor. The set of paths is fixed when
// InputCached is called; ExpiresWith adds further invalidating paths.
func InputCached[V any](paths []FileStamp, compute func(ctx *scope.Context) (V, error)) *Cached[V] {
	c := &Cached[V]{compute: compute}
	c.fingerprint = func(*scope.Context) (Fingerprint, error) {
		parts := make([]string, len(paths))
		for i, p := range paths {
			parts[i] = p.stamp()
		}
		return Fingerprint(strings.Join(parts, "|")), nil
	}
	return c
}

// Get returns the cached value if the current fingerprint matches the
// fingerprint from the last successful computation and no explicit
// expiry has been requested; otherwise it invokes compute, stores the
// result, and reports a cache-hit or cache-miss feature event to ctx.
func (c *Cached[V]) Get(ctx *scope.Context) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.expired() {
		c.have = false
		c.expireNow = false
	}

	fp, err := c.fingerprint(ctx)
	if err != nil {
		var zero V
		return zero, err
	}

	if c.have && fp == c.lastFp {
		ctx.ReportFeature("cache-hit")
		return c.lastVal, nil
	}

	ctx.ReportFeature("cache-miss")
	val, err := c.compute(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	c.have = true
	c.lastFp = fp
	c.lastVal = val
	return val, nil
}

func (c *Cached[V]) expired() bool {
	if c.expireNow {
		return true
	}
	if c.expireWhen != nil && c.expireWhen() {
		return true
	}
	for path, last := range c.expireWith {
		cur := FileStamp{Path: path}.stamp()
		if cur != last {
			c.expireWith[path] = cur
			return true
		}
	}
	return false
}

// ExpiresNow forces the next Get to recompute regardless of fingerprint.
func (c *Cached[V]) ExpiresNow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireNow = true
}

// ExpiresWith registers path so that a change in its mtime invalidates the
// cache, even if path is not itself part of the fingerprint computation.
func (c *Cached[V]) ExpiresWith(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expireWith == nil {
		c.expireWith = make(map[string]string)
	}
	c.expireWith[path] = FileStamp{Path: path}.stamp()
}

// ExpiresWhen installs a predicate consulted on every Get; when it returns
// true the cache is invalidated before the fingerprint check runs.
func (c *Cached[V]) ExpiresWhen(predicate func() bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireWhen = predicate
}

// Bind registers a binding on h for k that delegates to c.Get, the usual
// way a Cached is wired into a holder.
func Bind[V any](h *key.BindingHolder, k key.Key[V], c *Cached[V]) {
	key.Bind(h, k, func(ctx *scope.Context) (V, error) {
		return c.Get(ctx)
	})
}
