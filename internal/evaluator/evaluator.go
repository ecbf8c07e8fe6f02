// Package evaluator implements the key/scope resolution algorithm: walking
// a scope's holder chain to find a binding, collecting and applying
// modifiers in outermost-last order, falling back to a key's default, and
// reporting every step to an installed Listener. It also enforces the
// single-active-evaluation invariant described in spec §5.
package evaluator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/crucible-build/crucible/internal/ctxlog"
	"github.com/crucible-build/crucible/internal/key"
	"github.com/crucible-build/crucible/internal/scope"
)

// ErrKeyNotAssigned is returned (wrapped with the key's numeric id, e.g.
// "#3") when no
// binding and no default value is found for a key anywhere in the scope
// chain.
var ErrKeyNotAssigned = errors.New("key not assigned")

// ErrConcurrentEvaluation is returned when a second, unrelated activation
// attempts to run while one is already in progress. Re-entrance from
// within the same activation (nested Evaluate calls during a binding's own
// execution) is allowed and does not trigger this error.
var ErrConcurrentEvaluation = errors.New("evaluator: concurrent evaluation attempted")

// BindingError wraps an error raised by a binding or modifier function,
// identifying which key and which kind of function failed.
type BindingError struct {
	Key        string
	FromBinding bool
	Cause      error
}

func (e *BindingError) Error() string {
	kind := "modifier"
	if e.FromBinding {
		kind = "binding"
	}
	return fmt.Sprintf("evaluator: %s for key %q failed: %v", kind, e.Key, e.Cause)
}

func (e *BindingError) Unwrap() error { return e.Cause }

// activation identifies one top-level Evaluate call and every nested
// re-entrant call it makes from the same goroutine. goroutineID pins the
// activation to its owner so a genuinely concurrent caller is
// distinguishable from the owner re-entering.
type activation struct {
	id          string
	goroutineID uint64
	count       int32
}

// Evaluator resolves keys against scopes, enforcing that only one
// activation may be in flight per process at a time while allowing
// unbounded re-entrance from within that same activation.
type Evaluator struct {
	table    *scope.Table
	mu       sync.Mutex
	current  *activation
	listener Listener
}

// New creates an Evaluator with its own scope memoization table and a
// no-op listener installed.
func New() *Evaluator {
	return &Evaluator{table: scope.NewTable(), listener: NopListener{}}
}

// Table returns the evaluator's scope memoization table, for callers
// building scopes with key.Project.BaseScope / scope.Table.Layer.
func (e *Evaluator) Table() *scope.Table { return e.table }

// SetListener installs the evaluator's single listener, replacing any
// previous one. An evaluator holds at most one listener at a time.
func (e *Evaluator) SetListener(l Listener) {
	if l == nil {
		l = NopListener{}
	}
	e.listener = l
}

// NewContext builds a root evaluation Context for s, wiring this evaluator
// in as the recursive engine and wiring ctx (for cancellation) and input
// through.
func (e *Evaluator) NewContext(ctx context.Context, s *scope.Scope, input scope.InputSource) *scope.Context {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("scope constructed", "scope", s.Name())
	return &scope.Context{
		Scope:   s,
		Engine:  e,
		Input:   input,
		Done:    ctx.Done(),
		Logger:  logger,
		Feature: e.listener.Feature,
	}
}

// Evaluate is the generic, type-safe entry point: it returns the value
// bound to k in sctx.Scope, or k's default if no binding is found, or
// ErrKeyNotAssigned if neither exists. It begins a new activation (or
// re-enters the current one) and ends it before returning.
func Evaluate[V any](e *Evaluator, sctx *scope.Context, k key.Key[V]) (V, error) {
	return evaluateKey(e, sctx, k, nil)
}

// evaluateKey runs one activation for k. With a non-nil fallback it returns
// *fallback instead of ErrKeyNotAssigned; either way the listener sees a
// single terminating event for the Started it was sent.
func evaluateKey[V any](e *Evaluator, sctx *scope.Context, k key.Key[V], fallback *V) (V, error) {
	var zero V
	if err := e.enter(); err != nil {
		return zero, err
	}
	defer e.exit()

	if sctx.Logger != nil {
		sctx.Logger.Debug("evaluating key", "key", k.Name(), "scope", sctx.Scope.Name())
	}
	e.listener.Started(sctx.Scope, k.Name())
	raw, err := e.Evaluate(sctx, k.ID(), func() (any, bool) {
		if k.HasDefault() {
			return k.Default(), true
		}
		return nil, false
	})
	if err != nil {
		if errors.Is(err, ErrKeyNotAssigned) {
			if fallback != nil {
				e.listener.FailedNoBinding(true, *fallback)
				return *fallback, nil
			}
			e.listener.FailedNoBinding(false, nil)
		} else {
			e.listener.FailedError(err, isFromBinding(err))
		}
		return zero, err
	}
	v, _ := raw.(V)
	e.listener.Succeeded(k.Name(), v)
	return v, nil
}

// EvaluateOrElse is the OrElse variant: it returns fallback instead of
// ErrKeyNotAssigned when no binding exists, matching spec §4.1.
func EvaluateOrElse[V any](e *Evaluator, sctx *scope.Context, k key.Key[V], fallback V) (V, error) {
	return evaluateKey(e, sctx, k, &fallback)
}

func isFromBinding(err error) bool {
	var be *BindingError
	if errors.As(err, &be) {
		return be.FromBinding
	}
	return true
}

// enter enforces the single-active-evaluation invariant: a fresh
// activation is created on first entry, recording the calling goroutine's
// identity. Nested calls from that same goroutine re-enter the activation
// and bump its count; a call arriving from any other goroutine while an
// activation is active is rejected with ErrConcurrentEvaluation instead of
// being allowed to race the owner's count.
func (e *Evaluator) enter() error {
	gid := goroutineID()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		e.current = &activation{id: uuid.NewString(), goroutineID: gid, count: 1}
		return nil
	}
	if e.current.goroutineID != gid {
		return ErrConcurrentEvaluation
	}
	e.current.count++
	return nil
}

func (e *Evaluator) exit() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return
	}
	e.current.count--
	if e.current.count == 0 {
		e.current = nil
	}
}

// goroutineID extracts the calling goroutine's runtime id from its stack
// trace header ("goroutine 123 [running]:"). There is no exported API for
// this; parsing the trace is the standard escape hatch when code needs to
// tell "the same goroutine came back" from "a different one arrived".
func goroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]

	fields := bytes.Fields(buf)
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}

// Evaluate implements scope.Engine: the type-erased resolution algorithm
// used both by the generic Evaluate[V] entry point and, recursively, by
// key.Get calls made from within a binding or modifier.
func (e *Evaluator) Evaluate(sctx *scope.Context, keyID uint64, computeDefault func() (any, bool)) (any, error) {
	if sctx.Cancelled() {
		return nil, context.Canceled
	}

	holderVal, holder, found := walkForBinding(sctx.Scope, keyID)
	var value any
	var err error

	if found {
		value, err = holderVal(sctx)
		if err != nil {
			return nil, &BindingError{Key: fmt.Sprintf("#%d", keyID), FromBinding: true, Cause: err}
		}
	} else {
		def, ok := computeDefault()
		if !ok {
			return nil, fmt.Errorf("%w: #%d", ErrKeyNotAssigned, keyID)
		}
		value = def
	}

	groups := collectModifierGroups(sctx.Scope, keyID, holder)
	for _, g := range groups {
		e.listener.HasModifiers(sctx.Scope, g.holder.HolderName(), len(g.mods))
	}
	for gi := len(groups) - 1; gi >= 0; gi-- {
		mods := groups[gi].mods
		for i := 0; i < len(mods); i++ {
			value, err = mods[i](sctx, value)
			if err != nil {
				return nil, &BindingError{Key: fmt.Sprintf("#%d", keyID), FromBinding: false, Cause: err}
			}
		}
	}
	return value, nil
}

// walkForBinding walks s and its ancestors, most-significant first,
// returning the first binding found for keyID along with the holder that
// owns it. holder is nil if no binding is found (the caller will fall back
// to the key's default, but still wants to know modifiers stop nowhere in
// particular — see collectModifierGroups).
func walkForBinding(s *scope.Scope, keyID uint64) (scope.BindingFunc, scope.Holder, bool) {
	for cur := s; cur != nil; cur = cur.Parent() {
		for _, h := range cur.Holders() {
			if fn, ok := h.LookupBinding(keyID); ok {
				return fn, h, true
			}
		}
	}
	return nil, nil, false
}

// modifierGroup is every modifier a single holder contributed for one key.
type modifierGroup struct {
	holder scope.Holder
	mods   []scope.ModifierFunc
}

// collectModifierGroups gathers modifiers for keyID across the scope
// chain, starting at s and stopping once the holder that owns the binding
// (or the end of the chain, if falling back to a default) is reached —
// matching the "modifiers further out do not apply" subtlety in spec
// §4.1. The returned slice is in walk order (most-significant holder
// first); Evaluate applies groups in reverse so less-significant holders'
// modifiers run first, and within a group in declaration order.
func collectModifierGroups(s *scope.Scope, keyID uint64, stopAt scope.Holder) []modifierGroup {
	var groups []modifierGroup
	for cur := s; cur != nil; cur = cur.Parent() {
		for _, h := range cur.Holders() {
			if mods := h.LookupModifiers(keyID); len(mods) > 0 {
				groups = append(groups, modifierGroup{holder: h, mods: mods})
			}
			if stopAt != nil && h == stopAt {
				return groups
			}
		}
	}
	return groups
}
