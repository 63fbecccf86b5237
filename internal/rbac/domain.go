package rbac

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Role is a high-level permission grouping assigned to every user.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleAnalyst Role = "ANALYST"
	RoleAuditor Role = "AUDITOR"
)

// Atomic capabilities checked by the workflow and HTTP layers.
const (
	PermPerformMatching    = "perform_matching"
	PermApproveAdjustments = "approve_adjustments"
	PermUnmatch            = "unmatch_transactions"
	PermImport             = "import_transactions"
	PermViewAudit          = "view_audit"
	PermManageUsers        = "manage_users"
	PermManagePeriods      = "manage_periods"
)

// Profile bundles the capabilities and the adjustment-approval ceiling of a
// role. Unlimited marks roles whose ceiling is unbounded and which may
// override separation-of-duties.
type Profile struct {
	Permissions     map[string]bool
	AdjustmentLimit decimal.Decimal
	Unlimited       bool
}

// Table is the static role to profile mapping loaded at startup and passed
// by reference into the workflow. It is never mutated after validation.
type Table map[Role]Profile

// ErrUnknownRole indicates an actor carries a role absent from the table.
var ErrUnknownRole = errors.New("rbac: unknown role")

// DefaultTable returns the built-in role configuration.
func DefaultTable() Table {
	return Table{
		RoleAdmin: {
			Permissions: permSet(
				PermPerformMatching, PermApproveAdjustments, PermUnmatch,
				PermImport, PermViewAudit, PermManageUsers, PermManagePeriods,
			),
			Unlimited: true,
		},
		RoleManager: {
			Permissions: permSet(
				PermPerformMatching, PermApproveAdjustments, PermUnmatch,
				PermImport, PermViewAudit, PermManagePeriods,
			),
			AdjustmentLimit: decimal.RequireFromString("100.00"),
		},
		RoleAnalyst: {
			Permissions:     permSet(PermPerformMatching, PermImport),
			AdjustmentLimit: decimal.RequireFromString("10.00"),
		},
		RoleAuditor: {
			Permissions: permSet(PermViewAudit),
		},
	}
}

// Validate checks the table covers every known role with a coherent profile.
func (t Table) Validate() error {
	for _, role := range []Role{RoleAdmin, RoleManager, RoleAnalyst, RoleAuditor} {
		profile, ok := t[role]
		if !ok {
			return fmt.Errorf("rbac: role %s missing from table", role)
		}
		if profile.AdjustmentLimit.IsNegative() {
			return fmt.Errorf("rbac: role %s has negative adjustment limit", role)
		}
	}
	return nil
}

// Can reports whether the role holds the permission.
func (t Table) Can(role Role, permission string) bool {
	profile, ok := t[role]
	if !ok {
		return false
	}
	return profile.Permissions[permission]
}

// Ceiling returns the adjustment-approval ceiling for the role. The second
// return value is true when the role is unrestricted.
func (t Table) Ceiling(role Role) (decimal.Decimal, bool) {
	profile, ok := t[role]
	if !ok {
		return decimal.Zero, false
	}
	if profile.Unlimited {
		return decimal.Zero, true
	}
	return profile.AdjustmentLimit, false
}

// Overrides reports whether the role may bypass separation-of-duties.
func (t Table) Overrides(role Role) bool {
	profile, ok := t[role]
	return ok && profile.Unlimited
}

func permSet(perms ...string) map[string]bool {
	set := make(map[string]bool, len(perms))
	for _, p := range perms {
		set[p] = true
	}
	return set
}
