package approval

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ledgermatch/ledgermatch/internal/ledger"
	"github.com/ledgermatch/ledgermatch/internal/match"
	"github.com/ledgermatch/ledgermatch/internal/rbac"
	"github.com/ledgermatch/ledgermatch/internal/shared"
)

type memTx struct {
	group    match.Group
	members  []ledger.Transaction
	affected int64
	gotSet   struct {
		status    match.GroupStatus
		version   int64
		decidedBy int64
	}
}

func (m *memTx) GroupByID(_ context.Context, id uuid.UUID) (match.Group, error) {
	if m.group.ID != id {
		return match.Group{}, match.ErrGroupNotFound
	}
	return m.group, nil
}

func (m *memTx) TransactionsByGroup(_ context.Context, _ uuid.UUID) ([]ledger.Transaction, error) {
	return m.members, nil
}

func (m *memTx) UpdateGroupDecision(_ context.Context, _ uuid.UUID, version int64, status match.GroupStatus, decidedBy int64, _ time.Time) (int64, error) {
	m.gotSet.status = status
	m.gotSet.version = version
	m.gotSet.decidedBy = decidedBy
	return m.affected, nil
}

func pendingGroup() match.Group {
	adj := decimal.RequireFromString("50.00")
	return match.Group{
		ID:         uuid.New(),
		Status:     match.StatusPendingApproval,
		Difference: adj,
		Adjustment: &adj,
		CreatedBy:  3,
		Version:    2,
	}
}

func manager() shared.Actor {
	return shared.Actor{ID: 9, Email: "manager@ledgermatch.local", Role: string(rbac.RoleManager)}
}

func TestApproveHappyPath(t *testing.T) {
	tx := &memTx{
		group:    pendingGroup(),
		members:  []ledger.Transaction{{ID: 1, ImportedBy: 3}, {ID: 2, ImportedBy: 3}},
		affected: 1,
	}
	w := NewWorkflow(rbac.DefaultTable())

	got, err := w.Approve(context.Background(), tx, tx.group.ID, manager())
	require.NoError(t, err)
	require.Equal(t, match.StatusApproved, got.Status)
	require.Equal(t, match.StatusApproved, tx.gotSet.status)
	require.EqualValues(t, 2, tx.gotSet.version)
	require.EqualValues(t, 9, tx.gotSet.decidedBy)
	require.NotNil(t, got.ApprovedBy)
	require.EqualValues(t, 9, *got.ApprovedBy)
	require.EqualValues(t, 3, got.Version)
}

func TestRejectHappyPath(t *testing.T) {
	tx := &memTx{group: pendingGroup(), affected: 1}
	w := NewWorkflow(rbac.DefaultTable())

	got, err := w.Reject(context.Background(), tx, tx.group.ID, manager())
	require.NoError(t, err)
	require.Equal(t, match.StatusRejected, got.Status)
}

func TestDecidePermissionDenied(t *testing.T) {
	tx := &memTx{group: pendingGroup(), affected: 1}
	w := NewWorkflow(rbac.DefaultTable())

	analyst := shared.Actor{ID: 4, Role: string(rbac.RoleAnalyst)}
	_, err := w.Approve(context.Background(), tx, tx.group.ID, analyst)
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestDecideSeparationOfDuties(t *testing.T) {
	approver := manager()
	tx := &memTx{
		group:    pendingGroup(),
		members:  []ledger.Transaction{{ID: 1, ImportedBy: approver.ID}},
		affected: 1,
	}
	w := NewWorkflow(rbac.DefaultTable())

	_, err := w.Approve(context.Background(), tx, tx.group.ID, approver)
	require.ErrorIs(t, err, ErrSeparationOfDuties)
}

func TestDecideAdminOverridesSeparationOfDuties(t *testing.T) {
	admin := shared.Actor{ID: 9, Role: string(rbac.RoleAdmin)}
	tx := &memTx{
		group:    pendingGroup(),
		members:  []ledger.Transaction{{ID: 1, ImportedBy: admin.ID}},
		affected: 1,
	}
	w := NewWorkflow(rbac.DefaultTable())

	got, err := w.Approve(context.Background(), tx, tx.group.ID, admin)
	require.NoError(t, err)
	require.Equal(t, match.StatusApproved, got.Status)
}

func TestDecideNotPending(t *testing.T) {
	group := pendingGroup()
	group.Status = match.StatusApproved
	tx := &memTx{group: group, affected: 1}
	w := NewWorkflow(rbac.DefaultTable())

	_, err := w.Approve(context.Background(), tx, group.ID, manager())
	require.ErrorIs(t, err, ErrNotPending)
}

func TestDecideVersionConflict(t *testing.T) {
	tx := &memTx{group: pendingGroup(), affected: 0}
	w := NewWorkflow(rbac.DefaultTable())

	_, err := w.Approve(context.Background(), tx, tx.group.ID, manager())
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestDecideMissingGroup(t *testing.T) {
	tx := &memTx{group: pendingGroup()}
	w := NewWorkflow(rbac.DefaultTable())

	_, err := w.Approve(context.Background(), tx, uuid.New(), manager())
	require.ErrorIs(t, err, match.ErrGroupNotFound)
}
