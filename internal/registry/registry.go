// Package registry holds the static table of model-callable functions.
// The table is populated once at process start and is immutable afterwards;
// lookups never execute anything.
package registry

import (
	"context"
	"fmt"
)

// Scope is the read-only execution context a handler runs under.
type Scope struct {
	User  string
	Roles []string
}

// HasRole reports whether the scope carries the given role.
func (s Scope) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HandlerFunc is the capability bound to a declaration. It receives the
// sanitized argument mapping and must return structured data; business
// "not found"/"empty result" outcomes belong in the returned map, a
// non-nil error means the handler itself failed.
type HandlerFunc func(ctx context.Context, scope Scope, args map[string]any) (map[string]any, error)

// Declaration describes one callable function: what the model sees
// (name, description, parameter schema) plus the local binding.
type Declaration struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object (properties, types, required,
	// additionalProperties) validated before the handler runs.
	Parameters map[string]any
	// Response optionally describes the handler's result shape for the
	// model's benefit.
	Response map[string]any
	// RequiredRole, when set, gates execution on the caller's roles.
	RequiredRole string
	Enabled      bool
	Handler      HandlerFunc
}

// Registry is a pure lookup table over declarations, preserving
// registration order.
type Registry struct {
	order  []string
	byName map[string]*Declaration
}

func New() *Registry {
	return &Registry{
		byName: make(map[string]*Declaration),
	}
}

// Register adds a declaration. Names must be unique; nil declarations,
// empty names and missing handlers are rejected.
func (r *Registry) Register(d *Declaration) error {
	if d == nil {
		return fmt.Errorf("registry: declaration cannot be nil")
	}
	if d.Name == "" {
		return fmt.Errorf("registry: function name cannot be empty")
	}
	if d.Handler == nil {
		return fmt.Errorf("registry: function %q has no handler", d.Name)
	}
	if _, exists := r.byName[d.Name]; exists {
		return fmt.Errorf("registry: function %q already registered", d.Name)
	}

	r.byName[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// SetEnabled flips the enabled flag for a named function. Intended for
// startup-time fixture overrides only.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	d, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("registry: function %q not registered", name)
	}
	d.Enabled = enabled
	return nil
}

// Get returns the declaration for name. Disabled declarations are still
// returned; callers decide whether disabled counts as present.
func (r *Registry) Get(name string) (*Declaration, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// ListEnabled returns enabled declarations in registration order. This is
// the only view ever offered to the model as a tool set.
func (r *Registry) ListEnabled() []*Declaration {
	out := make([]*Declaration, 0, len(r.order))
	for _, name := range r.order {
		if d := r.byName[name]; d.Enabled {
			out = append(out, d)
		}
	}
	return out
}
