package recon

import (
	"context"

	"github.com/google/uuid"

	"github.com/ledgermatch/ledgermatch/internal/approval"
	"github.com/ledgermatch/ledgermatch/internal/audit"
	"github.com/ledgermatch/ledgermatch/internal/ledger"
	"github.com/ledgermatch/ledgermatch/internal/match"
	"github.com/ledgermatch/ledgermatch/internal/periods"
)

// Tx is the full transactional operation set one public operation needs.
// The engine, workflow, and chain each see only their own slice of it.
type Tx interface {
	match.Tx
	approval.Tx
	audit.Tx

	InsertTransactions(ctx context.Context, records []ledger.ImportRecord, importedBy int64) (int64, error)
	UpdateTransactionStatus(ctx context.Context, id int64, from, to ledger.Status) (int64, error)
	SetPeriodLock(ctx context.Context, lock periods.Lock) error
}

// Store is the durable ledger store. Every state-changing public operation
// runs inside exactly one WithTx call; reads outside transactions are
// short-lived projections.
type Store interface {
	audit.EntryLister

	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error

	Transactions(ctx context.Context, filter ledger.ListFilter) ([]ledger.Transaction, error)
	TransactionByID(ctx context.Context, id int64) (ledger.Transaction, error)
	Group(ctx context.Context, id uuid.UUID) (match.Group, error)
	Groups(ctx context.Context, status match.GroupStatus, limit, offset int) ([]match.Group, error)
	PeriodLock(ctx context.Context) (periods.Lock, error)
}
