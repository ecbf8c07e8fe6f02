package evaluator

import "github.com/crucible-build/crucible/internal/scope"

// Listener receives structured trace events from an evaluator. Events are
// strictly nested: every Started is paired with exactly one terminating
// event (Succeeded, FailedNoBinding or FailedError) at the same depth.
// Listener callbacks execute synchronously on the evaluator's activation.
type Listener interface {
	// Started is emitted when evaluation of key begins in scope s.
	Started(s *scope.Scope, key string)
	// HasModifiers is emitted once per holder that contributes modifiers
	// to the key currently being resolved.
	HasModifiers(s *scope.Scope, holder string, count int)
	// Feature reports a tagged, non-fatal event during evaluation — for
	// example "cache-hit" when an evalcache.Cached binding short-circuits
	// its compute function.
	Feature(tag string)
	// Succeeded is the terminating event when a value was produced,
	// either from a binding or from the key's default.
	Succeeded(key string, result any)
	// FailedNoBinding is the terminating event when no binding was found.
	// hasFallback/fallback describe EvaluateOrElse's outcome.
	FailedNoBinding(hasFallback bool, fallback any)
	// FailedError is the terminating event when a binding or modifier
	// raised an error. fromBinding distinguishes the two.
	FailedError(err error, fromBinding bool)
}

// NopListener is a zero-cost Listener that discards every event; it is the
// default installed on a freshly constructed Evaluator.
type NopListener struct{}

func (NopListener) Started(*scope.Scope, string)       {}
func (NopListener) HasModifiers(*scope.Scope, string, int) {}
func (NopListener) Feature(string)                     {}
func (NopListener) Succeeded(string, any)               {}
func (NopListener) FailedNoBinding(bool, any)           {}
func (NopListener) FailedError(error, bool)             {}
