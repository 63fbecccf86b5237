// Package approval enforces role-based adjustment approval and
// separation-of-duties over match groups.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ledgermatch/ledgermatch/internal/ledger"
	"github.com/ledgermatch/ledgermatch/internal/match"
	"github.com/ledgermatch/ledgermatch/internal/rbac"
	"github.com/ledgermatch/ledgermatch/internal/shared"
)

// Tx is the transactional slice of the store the workflow writes through.
// UpdateGroupDecision must be conditional on the version read at call
// start, returning the number of rows affected.
type Tx interface {
	GroupByID(ctx context.Context, id uuid.UUID) (match.Group, error)
	TransactionsByGroup(ctx context.Context, groupID uuid.UUID) ([]ledger.Transaction, error)
	UpdateGroupDecision(ctx context.Context, id uuid.UUID, version int64, status match.GroupStatus, decidedBy int64, decidedAt time.Time) (int64, error)
}

var (
	// ErrPermissionDenied indicates the actor lacks approve_adjustments.
	ErrPermissionDenied = errors.New("approval: permission denied")
	// ErrSeparationOfDuties indicates the approver imported one of the
	// group's transactions.
	ErrSeparationOfDuties = errors.New("approval: approver imported underlying transactions")
	// ErrVersionConflict indicates another writer changed the group first.
	// Safe to retry after re-reading current state.
	ErrVersionConflict = errors.New("approval: match group was modified concurrently")
	// ErrNotPending indicates the group is not awaiting approval.
	ErrNotPending = errors.New("approval: match group is not pending approval")
)

// Workflow gates match group decisions on the static role table.
type Workflow struct {
	table rbac.Table
	now   func() time.Time
}

// NewWorkflow constructs a Workflow over the validated role table.
func NewWorkflow(table rbac.Table) *Workflow {
	return &Workflow{table: table, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (w *Workflow) WithNow(now func() time.Time) {
	if now != nil {
		w.now = now
	}
}

// Approve transitions a pending group to APPROVED. The write is conditioned
// on the version read at call start; losers of a concurrent race receive
// ErrVersionConflict, never a silent overwrite.
func (w *Workflow) Approve(ctx context.Context, tx Tx, groupID uuid.UUID, approver shared.Actor) (match.Group, error) {
	return w.decide(ctx, tx, groupID, approver, match.StatusApproved)
}

// Reject transitions a pending group to REJECTED. Symmetric to Approve but
// carries no adjustment semantics.
func (w *Workflow) Reject(ctx context.Context, tx Tx, groupID uuid.UUID, approver shared.Actor) (match.Group, error) {
	return w.decide(ctx, tx, groupID, approver, match.StatusRejected)
}

func (w *Workflow) decide(ctx context.Context, tx Tx, groupID uuid.UUID, approver shared.Actor, target match.GroupStatus) (match.Group, error) {
	role := rbac.Role(approver.Role)
	if !w.table.Can(role, rbac.PermApproveAdjustments) {
		return match.Group{}, ErrPermissionDenied
	}

	group, err := tx.GroupByID(ctx, groupID)
	if err != nil {
		return match.Group{}, err
	}
	if group.Status != match.StatusPendingApproval {
		return match.Group{}, fmt.Errorf("%w: status is %s", ErrNotPending, group.Status)
	}

	if !w.table.Overrides(role) {
		members, err := tx.TransactionsByGroup(ctx, groupID)
		if err != nil {
			return match.Group{}, err
		}
		for _, t := range members {
			if t.ImportedBy == approver.ID {
				return match.Group{}, fmt.Errorf("%w: transaction %d", ErrSeparationOfDuties, t.ID)
			}
		}
	}

	decidedAt := w.now().UTC()
	affected, err := tx.UpdateGroupDecision(ctx, groupID, group.Version, target, approver.ID, decidedAt)
	if err != nil {
		return match.Group{}, err
	}
	if affected == 0 {
		return match.Group{}, ErrVersionConflict
	}

	group.Status = target
	group.ApprovedBy = &approver.ID
	group.ApprovedAt = &decidedAt
	group.Version++
	group.UpdatedAt = decidedAt
	return group, nil
}
