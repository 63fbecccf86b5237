package match

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgermatch/ledgermatch/internal/ledger"
)

// Tx is the transactional slice of the store the engine writes through.
// ClaimTransactions must be conditional on UNMATCHED status so two
// concurrent matches can never double-assign a transaction.
type Tx interface {
	TransactionsByIDs(ctx context.Context, ids []int64) ([]ledger.Transaction, error)
	TransactionsByGroup(ctx context.Context, groupID uuid.UUID) ([]ledger.Transaction, error)
	ClaimTransactions(ctx context.Context, ids []int64, groupID uuid.UUID) (int64, error)
	ReleaseGroupTransactions(ctx context.Context, groupID uuid.UUID) (int64, error)
	InsertGroup(ctx context.Context, g Group) error
	GroupByID(ctx context.Context, id uuid.UUID) (Group, error)
	DeleteGroup(ctx context.Context, id uuid.UUID) (int64, error)
}

// CreateInput bundles a proposed grouping with the actor's delegated
// authority and the externally supplied period-lock boundary.
type CreateInput struct {
	LeftIDs       []int64
	RightIDs      []int64
	Comment       string
	ActorID       int64
	Ceiling       decimal.Decimal
	Unrestricted  bool
	LockedThrough time.Time
}

// Engine validates proposed groupings and transitions transaction and group
// state. All methods run inside a caller-provided transaction; the engine
// itself holds no mutable state.
type Engine struct {
	now func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// CreateMatch validates the selection, computes totals and the difference,
// decides the approval requirement, and atomically claims the referenced
// transactions into a new group. The returned slice holds the transactions
// as they were before claiming, for audit snapshots.
func (e *Engine) CreateMatch(ctx context.Context, tx Tx, in CreateInput) (Group, []ledger.Transaction, error) {
	ids, err := mergeSelection(in.LeftIDs, in.RightIDs)
	if err != nil {
		return Group{}, nil, err
	}

	txns, err := tx.TransactionsByIDs(ctx, ids)
	if err != nil {
		return Group{}, nil, err
	}
	if len(txns) != len(ids) {
		return Group{}, nil, fmt.Errorf("%w: %d of %d transactions exist", ledger.ErrNotFound, len(txns), len(ids))
	}

	leftSet := idSet(in.LeftIDs)
	totalLeft, totalRight := decimal.Zero, decimal.Zero
	for _, t := range txns {
		if t.Status != ledger.StatusUnmatched {
			return Group{}, nil, fmt.Errorf("%w: transaction %d is %s", ErrNotMatchable, t.ID, t.Status)
		}
		if !in.LockedThrough.IsZero() && !t.Date.After(in.LockedThrough) {
			return Group{}, nil, fmt.Errorf("%w: transaction %d dated %s", ErrPeriodLocked, t.ID, t.Date.Format("2006-01-02"))
		}
		onLeft := leftSet[t.ID]
		if (onLeft && t.Side != ledger.SideLeft) || (!onLeft && t.Side != ledger.SideRight) {
			return Group{}, nil, fmt.Errorf("%w: transaction %d listed on wrong side", ErrInvalidSelection, t.ID)
		}
		if onLeft {
			totalLeft = totalLeft.Add(t.Amount)
		} else {
			totalRight = totalRight.Add(t.Amount)
		}
	}

	now := e.now().UTC()
	group := Group{
		ID:         uuid.New(),
		LeftIDs:    append([]int64(nil), in.LeftIDs...),
		RightIDs:   append([]int64(nil), in.RightIDs...),
		TotalLeft:  totalLeft,
		TotalRight: totalRight,
		Difference: totalLeft.Sub(totalRight).Abs(),
		Comment:    in.Comment,
		CreatedBy:  in.ActorID,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	group.Status, group.Adjustment = decide(group.Difference, in.Ceiling, in.Unrestricted)
	if group.Status == StatusApproved {
		actor := in.ActorID
		group.ApprovedBy = &actor
		approvedAt := now
		group.ApprovedAt = &approvedAt
	}

	if err := tx.InsertGroup(ctx, group); err != nil {
		return Group{}, nil, err
	}
	claimed, err := tx.ClaimTransactions(ctx, ids, group.ID)
	if err != nil {
		return Group{}, nil, err
	}
	if claimed != int64(len(ids)) {
		// Another writer matched one of the rows between read and claim.
		return Group{}, nil, ErrClaimConflict
	}
	return group, txns, nil
}

// decide applies the single authoritative approval policy: exact matches
// approve immediately, residuals within the actor's ceiling approve as a
// write-off, larger residuals require human review.
func decide(difference, ceiling decimal.Decimal, unrestricted bool) (GroupStatus, *decimal.Decimal) {
	if difference.IsZero() {
		return StatusApproved, nil
	}
	adjustment := difference
	if unrestricted || difference.LessThanOrEqual(ceiling) {
		return StatusApproved, &adjustment
	}
	return StatusPendingApproval, &adjustment
}

// Unmatch reverts every member transaction to UNMATCHED and deletes the
// group. The returned values carry the pre-unmatch state for audit
// snapshots.
func (e *Engine) Unmatch(ctx context.Context, tx Tx, groupID uuid.UUID, lockedThrough time.Time) (Group, []ledger.Transaction, error) {
	group, err := tx.GroupByID(ctx, groupID)
	if err != nil {
		return Group{}, nil, err
	}
	members, err := tx.TransactionsByGroup(ctx, groupID)
	if err != nil {
		return Group{}, nil, err
	}
	for _, t := range members {
		if !lockedThrough.IsZero() && !t.Date.After(lockedThrough) {
			return Group{}, nil, fmt.Errorf("%w: transaction %d dated %s", ErrPeriodLocked, t.ID, t.Date.Format("2006-01-02"))
		}
	}
	if _, err := tx.ReleaseGroupTransactions(ctx, groupID); err != nil {
		return Group{}, nil, err
	}
	deleted, err := tx.DeleteGroup(ctx, groupID)
	if err != nil {
		return Group{}, nil, err
	}
	if deleted == 0 {
		return Group{}, nil, ErrGroupNotFound
	}
	return group, members, nil
}

func mergeSelection(leftIDs, rightIDs []int64) ([]int64, error) {
	total := len(leftIDs) + len(rightIDs)
	if total == 0 {
		return nil, ErrEmptySelection
	}
	seen := make(map[int64]bool, total)
	ids := make([]int64, 0, total)
	for _, id := range append(append([]int64(nil), leftIDs...), rightIDs...) {
		if id <= 0 {
			return nil, fmt.Errorf("%w: non-positive transaction id", ErrInvalidSelection)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: transaction %d listed twice", ErrInvalidSelection, id)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func idSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
