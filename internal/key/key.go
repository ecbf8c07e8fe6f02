// Package key implements the opaque key handles and binding holders that
// make up the project's layered configuration graph: Key[V], BindingHolder,
// Project, Configuration, Archetype and ConfigurationExtension.
//
// Keys carry no reflection: a Key[V] is a handle identified by its ID, bindings and
// modifiers are plain closures stored behind it. The public surface is
// deliberately small: Bind, Modify and Extend on a holder, Get on a key.
package key

import (
	"fmt"
	"sync/atomic"
)

var nextID atomic.Uint64

// InputDescriptor documents a named input a binding may consume, surfaced
// to the input system (internal/input) and to help text.
type InputDescriptor struct {
	Name        string
	Description string
	Required    bool
}

// Key is an opaque, generic handle identifying a binding slot. Keys are
// created with New and passed around by value; a copy keeps its source's
// id and addresses the same binding slot. Key values are not comparable
// with ==; compare their ID() instead.
type Key[V any] struct {
	id               uint64
	name             string
	description      string
	hasDefault       bool
	def              V
	prettyPrint      func(V) string
	inputDescriptors []InputDescriptor
}

// Option configures a Key at construction time.
type Option[V any] func(*Key[V])

// WithDefault gives the key a default value returned when no binding is
// found anywhere in the scope chain.
func WithDefault[V any](def V) Option[V] {
	return func(k *Key[V]) {
		k.hasDefault = true
		k.def = def
	}
}

// WithPrettyPrint installs a formatter that PrettyPrint uses instead of
// fmt's default verb.
func WithPrettyPrint[V any](f func(V) string) Option[V] {
	return func(k *Key[V]) { k.prettyPrint = f }
}

// WithInputs declares the named inputs a binding for this key is expected
// to consume via the input system.
func WithInputs[V any](descriptors ...InputDescriptor) Option[V] {
	return func(k *Key[V]) { k.inputDescriptors = descriptors }
}

// New creates a fresh Key[V]. name and description are purely informational
// (used in tracing and error messages); uniqueness is guaranteed by an
// internal counter, not by name, so two keys may share a display name
// without colliding.
func New[V any](name, description string, opts ...Option[V]) Key[V] {
	k := Key[V]{
		id:          nextID.Add(1),
		name:        name,
		description: description,
	}
	for _, opt := range opts {
		opt(&k)
	}
	return k
}

// ID returns the key's process-unique identifier, used internally as a map
// key where V itself is not comparable or hashable in a useful way.
func (k Key[V]) ID() uint64 { return k.id }

// Name returns the key's display name.
func (k Key[V]) Name() string { return k.name }

// Description returns the key's human description.
func (k Key[V]) Description() string { return k.description }

// HasDefault reports whether the key carries a default value.
func (k Key[V]) HasDefault() bool { return k.hasDefault }

// Default returns the key's default value. Callers must check HasDefault
// first; Default returns the zero value of V when none was configured.
func (k Key[V]) Default() V { return k.def }

// InputDescriptors returns the input descriptors declared for this key.
func (k Key[V]) InputDescriptors() []InputDescriptor {
	return k.inputDescriptors
}

// PrettyPrint renders v using the key's configured formatter, falling back
// to fmt's default verb when none was configured.
func (k Key[V]) PrettyPrint(v V) string {
	if k.prettyPrint != nil {
		return k.prettyPrint(v)
	}
	return fmt.Sprintf("%v", v)
}

// String implements fmt.Stringer for tracing and error messages.
func (k Key[V]) String() string {
	return fmt.Sprintf("%s#%d", k.name, k.id)
}
