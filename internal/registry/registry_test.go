package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(_ context.Context, _ Scope, _ map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func TestRegisterRejectsInvalidDeclarations(t *testing.T) {
	tests := []struct {
		name string
		decl *Declaration
	}{
		{name: "nil declaration", decl: nil},
		{name: "empty name", decl: &Declaration{Handler: noopHandler}},
		{name: "missing handler", decl: &Declaration{Name: "check_stock_levels"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := New()
			assert.Error(t, r.Register(tc.decl))
		})
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&Declaration{Name: "check_stock_levels", Handler: noopHandler}))
	assert.Error(t, r.Register(&Declaration{Name: "check_stock_levels", Handler: noopHandler}))
}

func TestListEnabledPreservesOrderAndSkipsDisabled(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&Declaration{Name: "a", Enabled: true, Handler: noopHandler}))
	require.NoError(t, r.Register(&Declaration{Name: "b", Enabled: false, Handler: noopHandler}))
	require.NoError(t, r.Register(&Declaration{Name: "c", Enabled: true, Handler: noopHandler}))

	enabled := r.ListEnabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "a", enabled[0].Name)
	assert.Equal(t, "c", enabled[1].Name)
}

func TestSetEnabled(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&Declaration{Name: "a", Enabled: true, Handler: noopHandler}))

	require.NoError(t, r.SetEnabled("a", false))
	assert.Empty(t, r.ListEnabled())

	d, ok := r.Get("a")
	require.True(t, ok)
	assert.False(t, d.Enabled)

	assert.Error(t, r.SetEnabled("missing", true))
}

func TestScopeHasRole(t *testing.T) {
	s := Scope{User: "alice@example.com", Roles: []string{"Sales User", "Employee"}}
	assert.True(t, s.HasRole("Sales User"))
	assert.False(t, s.HasRole("System Manager"))
	assert.False(t, Scope{}.HasRole("Employee"))
}
