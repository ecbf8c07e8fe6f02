package key

import (
	"fmt"
	"sync/atomic"

	"github.com/crucible-build/crucible/internal/scope"
)

// BindingFunc produces a V given the evaluation context. It is the typed
// counterpart to scope.BindingFunc, which key erases/unerases it to/from.
type BindingFunc[V any] func(ctx *scope.Context) (V, error)

// ModifierFunc transforms a produced V within the evaluation context. It is
// the typed counterpart to scope.ModifierFunc.
type ModifierFunc[V any] func(ctx *scope.Context, v V) (V, error)

// BindingHolder is a write-only map from keys to bindings, plus a map from
// keys to ordered modifier lists, plus a map from configuration name to
// ConfigurationExtension. It is either building (mutable) or locked
// (immutable); the transition is one-way. Project, Configuration, Archetype
// and AnonymousConfiguration all embed BindingHolder.
type BindingHolder struct {
	name       string
	bindings   map[uint64]scope.BindingFunc
	modifiers  map[uint64][]scope.ModifierFunc
	extensions map[string]*ConfigurationExtension
	locked     atomic.Bool
}

// NewBindingHolder creates an empty, building holder with the given display
// name.
func NewBindingHolder(name string) *BindingHolder {
	return &BindingHolder{
		name:       name,
		bindings:   make(map[uint64]scope.BindingFunc),
		modifiers:  make(map[uint64][]scope.ModifierFunc),
		extensions: make(map[string]*ConfigurationExtension),
	}
}

// HolderName implements scope.Holder.
func (h *BindingHolder) HolderName() string { return h.name }

// Locked reports whether the holder has been locked against further
// mutation.
func (h *BindingHolder) Locked() bool { return h.locked.Load() }

// Lock transitions the holder from building to locked. Locking an
// already-locked holder is a no-op; the transition never goes backwards.
func (h *BindingHolder) Lock() { h.locked.Store(true) }

func (h *BindingHolder) mustBeBuilding(op string) {
	if h.locked.Load() {
		panic(fmt.Sprintf("key: cannot %s on locked holder %q", op, h.name))
	}
}

// Bind registers (or replaces) the binding for k on holder h.
func Bind[V any](h *BindingHolder, k Key[V], fn BindingFunc[V]) {
	h.mustBeBuilding("bind")
	h.bindings[k.ID()] = func(ctx *scope.Context) (any, error) {
		return fn(ctx)
	}
}

// Modify appends a modifier for k on holder h. Modifiers for the same key
// on the same holder are applied in the order they were declared.
func Modify[V any](h *BindingHolder, k Key[V], fn ModifierFunc[V]) {
	h.mustBeBuilding("modify")
	h.modifiers[k.ID()] = append(h.modifiers[k.ID()], func(ctx *scope.Context, v any) (any, error) {
		typed, _ := v.(V)
		out, err := fn(ctx, typed)
		return out, err
	})
}

// LookupBinding implements scope.Holder.
func (h *BindingHolder) LookupBinding(keyID uint64) (scope.BindingFunc, bool) {
	fn, ok := h.bindings[keyID]
	return fn, ok
}

// LookupModifiers implements scope.Holder.
func (h *BindingHolder) LookupModifiers(keyID uint64) []scope.ModifierFunc {
	return h.modifiers[keyID]
}

// Extend attaches a ConfigurationExtension to holder h that activates
// whenever configuration target appears in the current scope. Extend
// returns the extension so the caller can bind/modify keys on it.
func (h *BindingHolder) Extend(target *Configuration, build func(*ConfigurationExtension)) *ConfigurationExtension {
	h.mustBeBuilding("extend")
	ext := &ConfigurationExtension{BindingHolder: NewBindingHolder(fmt.Sprintf("%s->%s", h.name, target.ConfigName()))}
	if build != nil {
		build(ext)
	}
	ext.Lock()
	h.extensions[target.ConfigName()] = ext
	return ext
}

// Extension implements scope.ExtensionProvider.
func (h *BindingHolder) Extension(configName string) (scope.Holder, bool) {
	ext, ok := h.extensions[configName]
	if !ok {
		return nil, false
	}
	return ext, true
}

// Get evaluates k within ctx: it delegates to ctx.Engine to walk the scope
// chain, then falls back to k's default value if no binding was found
// anywhere. This is the binding/modifier-author-facing counterpart to
// evaluator.Evaluate; it lets a binding function read another key without
// importing internal/evaluator.
func Get[V any](ctx *scope.Context, k Key[V]) (V, error) {
	raw, err := ctx.Engine.Evaluate(ctx, k.ID(), func() (any, bool) {
		if k.HasDefault() {
			return k.Default(), true
		}
		return nil, false
	})
	if err != nil {
		var zero V
		return zero, err
	}
	v, _ := raw.(V)
	return v, nil
}
