package ledger

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side distinguishes the internal ledger from the external statement.
type Side string

const (
	SideLeft  Side = "LEFT"
	SideRight Side = "RIGHT"
)

// Category classifies a transaction for reconciliation reporting.
type Category string

const (
	CategoryInternalCredit Category = "INT_CR"
	CategoryInternalDebit  Category = "INT_DR"
	CategoryExternalCredit Category = "EXT_CR"
	CategoryExternalDebit  Category = "EXT_DR"
)

// Status captures the reconciliation lifecycle of a single transaction.
type Status string

const (
	StatusUnmatched Status = "UNMATCHED"
	StatusMatched   Status = "MATCHED"
	StatusDisputed  Status = "DISPUTED"
	StatusArchived  Status = "ARCHIVED"
)

// Transaction is one ledger row. A MATCHED transaction references exactly
// one match group; that bidirectional link is maintained only inside the
// atomic write path.
type Transaction struct {
	ID          int64
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Side        Side
	Category    Category
	Status      Status
	MatchID     *uuid.UUID
	ImportedBy  int64
	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ImportRecord is one already-validated, deduplicated row handed over by the
// import collaborator. The core never parses source files.
type ImportRecord struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Side        Side
	Category    Category
	ContentHash string
}

// ListFilter narrows transaction listings.
type ListFilter struct {
	Status   Status
	Side     Side
	DateFrom time.Time
	DateTo   time.Time
	Limit    int
	Offset   int
}

var (
	// ErrNotFound indicates a referenced transaction does not exist.
	ErrNotFound = errors.New("ledger: transaction not found")
	// ErrInvalidRecord indicates an import record failed validation.
	ErrInvalidRecord = errors.New("ledger: invalid import record")
)

// Validate checks a single import record.
func (r ImportRecord) Validate() error {
	if r.Date.IsZero() {
		return errors.New("ledger: record date required")
	}
	if strings.TrimSpace(r.ContentHash) == "" {
		return errors.New("ledger: record content hash required")
	}
	switch r.Side {
	case SideLeft, SideRight:
	default:
		return errors.New("ledger: record side must be LEFT or RIGHT")
	}
	switch r.Category {
	case CategoryInternalCredit, CategoryInternalDebit, CategoryExternalCredit, CategoryExternalDebit:
	default:
		return errors.New("ledger: unknown reconciliation category")
	}
	return nil
}
