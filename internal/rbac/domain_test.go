package rbac

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestDefaultTableValidates(t *testing.T) {
	require.NoError(t, DefaultTable().Validate())
}

func TestValidateRejectsMissingRole(t *testing.T) {
	table := DefaultTable()
	delete(table, RoleAuditor)
	require.Error(t, table.Validate())
}

func TestCan(t *testing.T) {
	table := DefaultTable()

	require.True(t, table.Can(RoleAnalyst, PermPerformMatching))
	require.False(t, table.Can(RoleAnalyst, PermApproveAdjustments))
	require.False(t, table.Can(RoleAuditor, PermPerformMatching))
	require.True(t, table.Can(RoleAuditor, PermViewAudit))
	require.True(t, table.Can(RoleAdmin, PermManageUsers))
	require.False(t, table.Can(Role("INTERN"), PermViewAudit))
}

func TestCeiling(t *testing.T) {
	table := DefaultTable()

	ceiling, unrestricted := table.Ceiling(RoleAnalyst)
	require.False(t, unrestricted)
	require.True(t, ceiling.Equal(decimal.RequireFromString("10.00")))

	ceiling, unrestricted = table.Ceiling(RoleManager)
	require.False(t, unrestricted)
	require.True(t, ceiling.Equal(decimal.RequireFromString("100.00")))

	_, unrestricted = table.Ceiling(RoleAdmin)
	require.True(t, unrestricted)

	ceiling, unrestricted = table.Ceiling(RoleAuditor)
	require.False(t, unrestricted)
	require.True(t, ceiling.IsZero())
}

func TestOverrides(t *testing.T) {
	table := DefaultTable()
	require.True(t, table.Overrides(RoleAdmin))
	require.False(t, table.Overrides(RoleManager))
	require.False(t, table.Overrides(Role("INTERN")))
}
