package match

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GroupStatus captures the decision state of a match group.
type GroupStatus string

const (
	StatusApproved        GroupStatus = "APPROVED"
	StatusPendingApproval GroupStatus = "PENDING_APPROVAL"
	StatusRejected        GroupStatus = "REJECTED"
)

// Group is one reconciliation unit linking left and right transactions.
// Groups are never mutated in place: every field change goes through a
// version-checked conditional write.
type Group struct {
	ID         uuid.UUID
	LeftIDs    []int64
	RightIDs   []int64
	TotalLeft  decimal.Decimal
	TotalRight decimal.Decimal
	Difference decimal.Decimal
	Adjustment *decimal.Decimal
	Comment    string
	Status     GroupStatus
	CreatedBy  int64
	ApprovedBy *int64
	ApprovedAt *time.Time
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Terminal reports whether the group has reached a decided state.
func (g Group) Terminal() bool {
	return g.Status == StatusApproved || g.Status == StatusRejected
}

var (
	// ErrEmptySelection indicates no transactions were referenced.
	ErrEmptySelection = errors.New("match: selection is empty")
	// ErrInvalidSelection indicates duplicate ids or a transaction listed
	// on the wrong side.
	ErrInvalidSelection = errors.New("match: selection is invalid")
	// ErrNotMatchable indicates a referenced transaction is not UNMATCHED.
	ErrNotMatchable = errors.New("match: transaction is not available for matching")
	// ErrPeriodLocked indicates a transaction date falls in a locked period.
	ErrPeriodLocked = errors.New("match: transaction is in a locked period")
	// ErrGroupNotFound indicates the match group does not exist.
	ErrGroupNotFound = errors.New("match: group not found")
	// ErrClaimConflict indicates a concurrent writer claimed one of the
	// transactions between validation and write. Safe to retry.
	ErrClaimConflict = errors.New("match: transaction claimed concurrently")
)
