package key

import (
	"github.com/crucible-build/crucible/internal/scope"
)

// Project is a top-level BindingHolder: a named build unit with an
// optional filesystem root and an ordered list of archetypes it descends
// from, most specific first.
type Project struct {
	*BindingHolder
	ProjectName string
	Root        string
	archetypes  []*Archetype
}

// NewProject creates a building Project with the given name and optional
// filesystem root. Archetypes are attached with WithArchetypes before the
// project is locked.
func NewProject(name, root string) *Project {
	return &Project{
		BindingHolder: NewBindingHolder(name),
		ProjectName:   name,
		Root:          root,
	}
}

// WithArchetypes appends archetypes to the project's ancestor list, most
// specific first, and returns p for chaining during build-script setup.
func (p *Project) WithArchetypes(archetypes ...*Archetype) *Project {
	p.mustBeBuilding("add archetype to")
	p.archetypes = append(p.archetypes, archetypes...)
	return p
}

// Archetypes returns the project's archetype ancestors, most specific
// first.
func (p *Project) Archetypes() []*Archetype {
	return p.archetypes
}

// BaseScope builds the project's base scope: the project holder, then each
// archetype and its own parent chain, most specific first, per the data
// model. The base scope has no parent.
func (p *Project) BaseScope() *scope.Scope {
	holders := []scope.Holder{p.BindingHolder}
	for _, arch := range p.archetypes {
		for cur, ok := arch, true; ok; {
			holders = append(holders, cur.BindingHolder)
			var parent *Archetype
			parent, ok = cur.ParentArchetype()
			cur = parent
		}
	}
	return scope.Root(p.ProjectName, holders...)
}

// Lock locks the project holder and, transitively, every archetype it
// lists — matching the teacher's registry validation discipline of
// finalizing the whole object graph together rather than piecemeal.
func (p *Project) Lock() {
	p.BindingHolder.Lock()
	for _, arch := range p.archetypes {
		for cur, ok := arch, true; ok; {
			cur.Lock()
			var parent *Archetype
			parent, ok = cur.ParentArchetype()
			cur = parent
		}
	}
}

// Archetype behaves like Configuration but is implicitly part of every
// scope derived from a project that names it, rather than being named in
// the user-facing "cfg:" prefix.
type Archetype struct {
	*BindingHolder
	archName string
	parent   *Archetype
}

// NewArchetype creates a building Archetype with an optional parent
// archetype.
func NewArchetype(name string, parent *Archetype) *Archetype {
	return &Archetype{
		BindingHolder: NewBindingHolder(name),
		archName:      name,
		parent:        parent,
	}
}

// ConfigName implements scope.Configuration.
func (a *Archetype) ConfigName() string { return a.archName }

// Parent implements scope.Configuration.
func (a *Archetype) Parent() (scope.Configuration, bool) {
	if a.parent == nil {
		return nil, false
	}
	return a.parent, true
}

// ParentArchetype is the typed equivalent of Parent, used internally where
// the concrete *Archetype (rather than the scope.Configuration interface)
// is needed to keep walking an archetype's own parent chain.
func (a *Archetype) ParentArchetype() (*Archetype, bool) {
	if a.parent == nil {
		return nil, false
	}
	return a.parent, true
}

// Configuration is a named BindingHolder with an optional parent
// configuration. Bindings in a configuration shadow those in its parent;
// the parent is searched only if the configuration itself does not bind
// the key.
type Configuration struct {
	*BindingHolder
	configName string
	parent     *Configuration
}

// NewConfiguration creates a building Configuration with an optional
// parent configuration to shadow.
func NewConfiguration(name string, parent *Configuration) *Configuration {
	return &Configuration{
		BindingHolder: NewBindingHolder(name),
		configName:    name,
		parent:        parent,
	}
}

// ConfigName implements scope.Configuration.
func (c *Configuration) ConfigName() string { return c.configName }

// Parent implements scope.Configuration.
func (c *Configuration) Parent() (scope.Configuration, bool) {
	if c.parent == nil {
		return nil, false
	}
	return c.parent, true
}

// ParentConfiguration is the typed equivalent of Parent, used internally
// where the concrete *Configuration is needed.
func (c *Configuration) ParentConfiguration() (*Configuration, bool) {
	if c.parent == nil {
		return nil, false
	}
	return c.parent, true
}

// ConfigurationExtension is a BindingHolder attached to a configuration via
// BindingHolder.Extend; it is consulted whenever the configuration it
// targets appears in the current scope.
type ConfigurationExtension struct {
	*BindingHolder
}

// AnonymousConfiguration is a Configuration with no declared name, useful
// for ad hoc scope layering (e.g. a one-off test fixture or a dynamically
// generated variant) without polluting the named-configuration namespace.
type AnonymousConfiguration struct {
	*Configuration
}

// NewAnonymousConfiguration creates a building, unnamed configuration with
// the given parent.
func NewAnonymousConfiguration(parent *Configuration) *AnonymousConfiguration {
	return &AnonymousConfiguration{Configuration: NewConfiguration("", parent)}
}
