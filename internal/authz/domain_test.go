package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/lattice-saas/lattice/testing"
)

func TestParseStaticRole(t *testing.T) {
	role, err := ParseStaticRole(" owner ")
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, role)

	_, err = ParseStaticRole("ROOT")
	assert.Error(t, err)

	_, err = ParseStaticRole("")
	assert.Error(t, err)
}

func TestNewModuleScope(t *testing.T) {
	scope, err := NewModuleScope("billing")
	require.NoError(t, err)
	assert.Equal(t, LevelModule, scope.Level())
	assert.Equal(t, "billing", scope.Module())
	assert.Equal(t, "", scope.Identifier())

	_, err = NewModuleScope("billing.invoices")
	assert.Error(t, err)

	_, err = NewModuleScope("  ")
	assert.Error(t, err)
}

func TestNewPageScope(t *testing.T) {
	scope, err := NewPageScope("billing.invoices")
	require.NoError(t, err)
	assert.Equal(t, "billing", scope.Module())
	assert.Equal(t, "billing.invoices", scope.Identifier())

	for _, raw := range []string{"billing", "billing.", ".invoices", "a.b.c", ""} {
		_, err := NewPageScope(raw)
		assert.Error(t, err, raw)
	}
}

func TestNewComponentScope(t *testing.T) {
	scope, err := NewComponentScope("billing.invoices", "export-button")
	require.NoError(t, err)
	assert.Equal(t, "billing", scope.Module())
	assert.Equal(t, "billing.invoices.export-button", scope.Identifier())

	_, err = NewComponentScope("billing.invoices", "a.b")
	assert.Error(t, err)

	_, err = NewComponentScope("billing", "export-button")
	assert.Error(t, err)

	_, err = NewComponentScope("billing.invoices", "")
	assert.Error(t, err)
}

func TestParseScope(t *testing.T) {
	scope, err := ParseScope(LevelModule, "billing", "")
	require.NoError(t, err)
	assert.IsType(t, ModuleScope{}, scope)

	scope, err = ParseScope(LevelPage, "billing", "billing.invoices")
	require.NoError(t, err)
	assert.IsType(t, PageScope{}, scope)

	scope, err = ParseScope(LevelComponent, "billing", "billing.invoices.export-button")
	require.NoError(t, err)
	require.IsType(t, ComponentScope{}, scope)
	assert.Equal(t, "export-button", scope.(ComponentScope).ComponentKey)

	// Identifier module must agree with the module key.
	_, err = ParseScope(LevelPage, "reports", "billing.invoices")
	assert.Error(t, err)

	_, err = ParseScope(LevelComponent, "reports", "billing.invoices.export-button")
	assert.Error(t, err)

	_, err = ParseScope(LevelComponent, "billing", "billing.invoices")
	assert.Error(t, err)

	_, err = ParseScope(Level("GROUP"), "billing", "")
	assert.Error(t, err)
}

func TestIdentityIsZero(t *testing.T) {
	assert.True(t, Identity{}.IsZero())
	assert.True(t, Identity{UserID: 7}.IsZero())
	assert.True(t, Identity{Role: RoleUser}.IsZero())
	assert.False(t, Identity{UserID: 7, Role: RoleUser}.IsZero())
}
