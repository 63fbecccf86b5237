// Package recon composes the matching engine, approval workflow, and audit
// chain into the externally callable reconciliation operations.
package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ledgermatch/ledgermatch/internal/approval"
	"github.com/ledgermatch/ledgermatch/internal/audit"
	"github.com/ledgermatch/ledgermatch/internal/ledger"
	"github.com/ledgermatch/ledgermatch/internal/match"
	"github.com/ledgermatch/ledgermatch/internal/periods"
	"github.com/ledgermatch/ledgermatch/internal/rbac"
	"github.com/ledgermatch/ledgermatch/internal/shared"
)

// Audited entity types.
const (
	EntityMatchGroup  = "match_group"
	EntityTransaction = "transaction"
	EntityImport      = "ledger_import"
	EntityPeriodLock  = "period_lock"
	EntitySession     = "session"
)

var (
	// ErrPermissionDenied indicates the actor lacks the required capability.
	ErrPermissionDenied = errors.New("recon: permission denied")
	// ErrPersistence wraps storage failures. The operation was rolled back
	// as a unit; safe to retry once the store recovers.
	ErrPersistence = errors.New("recon: storage operation failed")
	// ErrWritesHalted is returned after a chain integrity failure has been
	// detected; write paths stay refused until an operator intervenes.
	ErrWritesHalted = errors.New("recon: writes halted after audit integrity failure")
)

// BatchResult reports how many members a batch operation actually affected.
type BatchResult struct {
	Affected int `json:"affected"`
	Skipped  int `json:"skipped"`
}

// ImportResult reports the outcome of an import intake.
type ImportResult struct {
	BatchID  uuid.UUID `json:"batch_id"`
	Received int       `json:"received"`
	Inserted int64     `json:"inserted"`
}

// Service is the orchestrator. Every public operation groups its writes,
// including the audit append, into one atomic store transaction.
type Service struct {
	store    Store
	engine   *match.Engine
	workflow *approval.Workflow
	chain    *audit.Chain
	table    rbac.Table
	logger   *slog.Logger

	// integrityFailed is a circuit breaker, not a state cache: once chain
	// verification reports a mismatch, dependent write paths are refused
	// until an operator intervenes.
	integrityFailed atomic.Bool
}

// NewService constructs the reconciliation service.
func NewService(store Store, engine *match.Engine, workflow *approval.Workflow, chain *audit.Chain, table rbac.Table, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		engine:   engine,
		workflow: workflow,
		chain:    chain,
		table:    table,
		logger:   logger,
	}
}

// CreateMatchInput is the orchestrator-level request for a new match.
type CreateMatchInput struct {
	LeftIDs  []int64
	RightIDs []int64
	Comment  string
}

type txnSnapshot struct {
	ID      int64         `json:"id"`
	Status  ledger.Status `json:"status"`
	MatchID *uuid.UUID    `json:"match_id,omitempty"`
}

type groupSnapshot struct {
	ID         uuid.UUID         `json:"id"`
	Status     match.GroupStatus `json:"status"`
	Version    int64             `json:"version"`
	Difference string            `json:"difference"`
}

// CreateMatch validates and persists a new match group. Exact matches and
// in-ceiling residuals approve immediately; larger residuals await review.
func (s *Service) CreateMatch(ctx context.Context, in CreateMatchInput, actor shared.Actor) (match.Group, error) {
	if err := s.writable(); err != nil {
		return match.Group{}, err
	}
	if !s.table.Can(rbac.Role(actor.Role), rbac.PermPerformMatching) {
		return match.Group{}, ErrPermissionDenied
	}
	lock, err := s.store.PeriodLock(ctx)
	if err != nil {
		return match.Group{}, s.storeErr("read period lock", err)
	}
	ceiling, unrestricted := s.table.Ceiling(rbac.Role(actor.Role))

	var group match.Group
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		created, before, err := s.engine.CreateMatch(ctx, tx, match.CreateInput{
			LeftIDs:       in.LeftIDs,
			RightIDs:      in.RightIDs,
			Comment:       in.Comment,
			ActorID:       actor.ID,
			Ceiling:       ceiling,
			Unrestricted:  unrestricted,
			LockedThrough: lock.Through,
		})
		if err != nil {
			return err
		}
		group = created

		after := make([]txnSnapshot, 0, len(before))
		for _, t := range before {
			id := created.ID
			after = append(after, txnSnapshot{ID: t.ID, Status: ledger.StatusMatched, MatchID: &id})
		}
		_, err = s.chain.AppendIn(ctx, tx, audit.Entry{
			ActorID:       actor.ID,
			Context:       actor.Device,
			Action:        audit.ActionMatch,
			EntityType:    EntityMatchGroup,
			EntityID:      created.ID.String(),
			Before:        mustJSON(txnSnapshots(before)),
			After:         mustJSON(after),
			Summary:       fmt.Sprintf("matched %d left against %d right, difference %s", len(in.LeftIDs), len(in.RightIDs), created.Difference.StringFixed(2)),
			Justification: in.Comment,
		})
		return err
	})
	if err != nil {
		return match.Group{}, s.storeErr("create match", err)
	}
	return group, nil
}

// ApproveMatch transitions a pending group to APPROVED under the
// separation-of-duties and optimistic-concurrency rules.
func (s *Service) ApproveMatch(ctx context.Context, groupID uuid.UUID, actor shared.Actor) (match.Group, error) {
	return s.decideMatch(ctx, groupID, actor, match.StatusApproved, "")
}

// RejectMatch transitions a pending group to REJECTED, recording the reason
// as the audit justification.
func (s *Service) RejectMatch(ctx context.Context, groupID uuid.UUID, actor shared.Actor, reason string) (match.Group, error) {
	return s.decideMatch(ctx, groupID, actor, match.StatusRejected, reason)
}

func (s *Service) decideMatch(ctx context.Context, groupID uuid.UUID, actor shared.Actor, target match.GroupStatus, reason string) (match.Group, error) {
	if err := s.writable(); err != nil {
		return match.Group{}, err
	}
	var group match.Group
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		before, err := tx.GroupByID(ctx, groupID)
		if err != nil {
			return err
		}
		if target == match.StatusApproved {
			group, err = s.workflow.Approve(ctx, tx, groupID, actor)
		} else {
			group, err = s.workflow.Reject(ctx, tx, groupID, actor)
		}
		if err != nil {
			return err
		}
		action := audit.ActionApprove
		summary := fmt.Sprintf("approved adjustment %s", adjustmentString(group))
		if target == match.StatusRejected {
			action = audit.ActionUpdate
			summary = "rejected match group"
		}
		_, err = s.chain.AppendIn(ctx, tx, audit.Entry{
			ActorID:       actor.ID,
			Context:       actor.Device,
			Action:        action,
			EntityType:    EntityMatchGroup,
			EntityID:      groupID.String(),
			Before:        mustJSON(snapshotGroup(before)),
			After:         mustJSON(snapshotGroup(group)),
			Summary:       summary,
			Justification: reason,
		})
		return err
	})
	if err != nil {
		return match.Group{}, s.storeErr("decide match", err)
	}
	return group, nil
}

// Unmatch reverts every member transaction to UNMATCHED and removes the
// group. Requires unmatch_transactions.
func (s *Service) Unmatch(ctx context.Context, groupID uuid.UUID, actor shared.Actor) error {
	if err := s.writable(); err != nil {
		return err
	}
	if !s.table.Can(rbac.Role(actor.Role), rbac.PermUnmatch) {
		return ErrPermissionDenied
	}
	lock, err := s.store.PeriodLock(ctx)
	if err != nil {
		return s.storeErr("read period lock", err)
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		group, members, err := s.engine.Unmatch(ctx, tx, groupID, lock.Through)
		if err != nil {
			return err
		}
		after := make([]txnSnapshot, 0, len(members))
		for _, t := range members {
			after = append(after, txnSnapshot{ID: t.ID, Status: ledger.StatusUnmatched})
		}
		_, err = s.chain.AppendIn(ctx, tx, audit.Entry{
			ActorID:    actor.ID,
			Context:    actor.Device,
			Action:     audit.ActionUnmatch,
			EntityType: EntityMatchGroup,
			EntityID:   groupID.String(),
			Before:     mustJSON(snapshotGroup(group)),
			After:      mustJSON(after),
			Summary:    fmt.Sprintf("unmatched group of %d transactions", len(members)),
		})
		return err
	})
	if err != nil {
		return s.storeErr("unmatch", err)
	}
	return nil
}

// BatchUnmatch applies Unmatch to every id, silently skipping members that
// are period-locked, missing, or contested by concurrent writers. Storage
// failures abort the batch.
func (s *Service) BatchUnmatch(ctx context.Context, groupIDs []uuid.UUID, actor shared.Actor) (BatchResult, error) {
	var result BatchResult
	for _, id := range groupIDs {
		err := s.Unmatch(ctx, id, actor)
		switch {
		case err == nil:
			result.Affected++
		case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrPersistence), errors.Is(err, ErrWritesHalted):
			return result, err
		default:
			result.Skipped++
		}
	}
	return result, nil
}

// BatchApprove applies ApproveMatch to every id with the same skip
// semantics as BatchUnmatch; members already decided or blocked by
// separation-of-duties are counted as skipped, not errors.
func (s *Service) BatchApprove(ctx context.Context, groupIDs []uuid.UUID, actor shared.Actor) (BatchResult, error) {
	var result BatchResult
	for _, id := range groupIDs {
		_, err := s.ApproveMatch(ctx, id, actor)
		switch {
		case err == nil:
			result.Affected++
		case errors.Is(err, approval.ErrPermissionDenied), errors.Is(err, ErrPersistence), errors.Is(err, ErrWritesHalted):
			return result, err
		default:
			result.Skipped++
		}
	}
	return result, nil
}

// ImportTransactions accepts validated, content-hash-deduplicated records
// from the import collaborator and appends one IMPORT audit entry for the
// batch. Duplicate hashes are ignored by the store.
func (s *Service) ImportTransactions(ctx context.Context, records []ledger.ImportRecord, actor shared.Actor) (ImportResult, error) {
	if err := s.writable(); err != nil {
		return ImportResult{}, err
	}
	if !s.table.Can(rbac.Role(actor.Role), rbac.PermImport) {
		return ImportResult{}, ErrPermissionDenied
	}
	if len(records) == 0 {
		return ImportResult{}, ledger.ErrInvalidRecord
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return ImportResult{}, fmt.Errorf("%w: %s", ledger.ErrInvalidRecord, err)
		}
	}

	result := ImportResult{BatchID: uuid.New(), Received: len(records)}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		inserted, err := tx.InsertTransactions(ctx, records, actor.ID)
		if err != nil {
			return err
		}
		result.Inserted = inserted
		_, err = s.chain.AppendIn(ctx, tx, audit.Entry{
			ActorID:    actor.ID,
			Context:    actor.Device,
			Action:     audit.ActionImport,
			EntityType: EntityImport,
			EntityID:   result.BatchID.String(),
			After:      mustJSON(map[string]any{"received": result.Received, "inserted": inserted}),
			Summary:    fmt.Sprintf("imported %d of %d transactions", inserted, result.Received),
		})
		return err
	})
	if err != nil {
		return ImportResult{}, s.storeErr("import transactions", err)
	}
	return result, nil
}

// SetDispute toggles the manual DISPUTED flag on an unmatched transaction.
func (s *Service) SetDispute(ctx context.Context, id int64, disputed bool, actor shared.Actor, reason string) error {
	if err := s.writable(); err != nil {
		return err
	}
	if !s.table.Can(rbac.Role(actor.Role), rbac.PermPerformMatching) {
		return ErrPermissionDenied
	}
	from, to := ledger.StatusUnmatched, ledger.StatusDisputed
	if !disputed {
		from, to = ledger.StatusDisputed, ledger.StatusUnmatched
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		affected, err := tx.UpdateTransactionStatus(ctx, id, from, to)
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: transaction %d is not %s", match.ErrNotMatchable, id, from)
		}
		_, err = s.chain.AppendIn(ctx, tx, audit.Entry{
			ActorID:       actor.ID,
			Context:       actor.Device,
			Action:        audit.ActionUpdate,
			EntityType:    EntityTransaction,
			EntityID:      fmt.Sprintf("%d", id),
			Before:        mustJSON(txnSnapshot{ID: id, Status: from}),
			After:         mustJSON(txnSnapshot{ID: id, Status: to}),
			Summary:       fmt.Sprintf("transaction marked %s", to),
			Justification: reason,
		})
		return err
	})
	if err != nil {
		return s.storeErr("set dispute", err)
	}
	return nil
}

// PeriodLock returns the current locked-through boundary.
func (s *Service) PeriodLock(ctx context.Context) (periods.Lock, error) {
	lock, err := s.store.PeriodLock(ctx)
	if err != nil {
		return periods.Lock{}, s.storeErr("read period lock", err)
	}
	return lock, nil
}

// AdvancePeriodLock moves the locked-through boundary forward. Requires
// manage_periods; the boundary never moves backwards.
func (s *Service) AdvancePeriodLock(ctx context.Context, through time.Time, actor shared.Actor) (periods.Lock, error) {
	if err := s.writable(); err != nil {
		return periods.Lock{}, err
	}
	if !s.table.Can(rbac.Role(actor.Role), rbac.PermManagePeriods) {
		return periods.Lock{}, ErrPermissionDenied
	}
	current, err := s.store.PeriodLock(ctx)
	if err != nil {
		return periods.Lock{}, s.storeErr("read period lock", err)
	}
	if err := current.Advance(through); err != nil {
		return periods.Lock{}, err
	}
	updated := periods.Lock{Through: through, SetBy: actor.ID}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.SetPeriodLock(ctx, updated); err != nil {
			return err
		}
		_, err := s.chain.AppendIn(ctx, tx, audit.Entry{
			ActorID:    actor.ID,
			Context:    actor.Device,
			Action:     audit.ActionUpdate,
			EntityType: EntityPeriodLock,
			EntityID:   "boundary",
			Before:     mustJSON(map[string]string{"through": current.Through.Format("2006-01-02")}),
			After:      mustJSON(map[string]string{"through": through.Format("2006-01-02")}),
			Summary:    fmt.Sprintf("period lock advanced to %s", through.Format("2006-01-02")),
		})
		return err
	})
	if err != nil {
		return periods.Lock{}, s.storeErr("advance period lock", err)
	}
	return updated, nil
}

// RecordAuthEvent appends a LOGIN or LOGOUT entry for the session
// collaborator.
func (s *Service) RecordAuthEvent(ctx context.Context, actor shared.Actor, action audit.Action, sessionID string) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := s.chain.AppendIn(ctx, tx, audit.Entry{
			ActorID:    actor.ID,
			Context:    actor.Device,
			Action:     action,
			EntityType: EntitySession,
			EntityID:   sessionID,
			Summary:    fmt.Sprintf("session %s", action),
		})
		return err
	})
	if err != nil {
		return s.storeErr("record auth event", err)
	}
	return nil
}

// VerifyAuditChain walks the full chain. A mismatch is surfaced as a
// critical alert and trips the write circuit breaker.
func (s *Service) VerifyAuditChain(ctx context.Context) (audit.VerifyResult, error) {
	result, err := s.chain.Verify(ctx, s.store)
	if err != nil {
		return audit.VerifyResult{}, s.storeErr("verify chain", err)
	}
	if !result.Valid {
		s.integrityFailed.Store(true)
		s.logger.Error("audit chain integrity failure",
			slog.Int64("broken_at", *result.BrokenAt),
			slog.Int("checked", result.Checked),
		)
	}
	return result, nil
}

// EntityAuditTrail returns the audit history of one entity.
func (s *Service) EntityAuditTrail(ctx context.Context, entityType, entityID string, limit, offset int) ([]audit.Entry, error) {
	entries, err := s.chain.EntityTrail(ctx, s.store, entityType, entityID, limit, offset)
	if err != nil {
		return nil, s.storeErr("entity audit trail", err)
	}
	return entries, nil
}

// UserActivity summarises one actor's recorded actions inside a window.
func (s *Service) UserActivity(ctx context.Context, actorID int64, from, to time.Time) (audit.ActivitySummary, error) {
	summary, err := s.chain.UserActivity(ctx, s.store, actorID, from, to)
	if err != nil {
		return audit.ActivitySummary{}, s.storeErr("user activity", err)
	}
	return summary, nil
}

// Transactions lists ledger transactions for the matching surface.
func (s *Service) Transactions(ctx context.Context, filter ledger.ListFilter) ([]ledger.Transaction, error) {
	txns, err := s.store.Transactions(ctx, filter)
	if err != nil {
		return nil, s.storeErr("list transactions", err)
	}
	return txns, nil
}

// Group returns one match group.
func (s *Service) Group(ctx context.Context, id uuid.UUID) (match.Group, error) {
	group, err := s.store.Group(ctx, id)
	if err != nil {
		return match.Group{}, s.storeErr("get group", err)
	}
	return group, nil
}

// Groups lists match groups, optionally filtered by status.
func (s *Service) Groups(ctx context.Context, status match.GroupStatus, limit, offset int) ([]match.Group, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	groups, err := s.store.Groups(ctx, status, limit, offset)
	if err != nil {
		return nil, s.storeErr("list groups", err)
	}
	return groups, nil
}

func (s *Service) writable() error {
	if s.integrityFailed.Load() {
		return ErrWritesHalted
	}
	return nil
}

// domainErrs are passed through untouched; anything else is treated as a
// storage failure and never exposed verbatim to callers.
var domainErrs = []error{
	match.ErrEmptySelection,
	match.ErrInvalidSelection,
	match.ErrNotMatchable,
	match.ErrPeriodLocked,
	match.ErrGroupNotFound,
	match.ErrClaimConflict,
	approval.ErrPermissionDenied,
	approval.ErrSeparationOfDuties,
	approval.ErrVersionConflict,
	approval.ErrNotPending,
	audit.ErrChainBroken,
	audit.ErrInvalidEntry,
	ledger.ErrNotFound,
	ledger.ErrInvalidRecord,
	periods.ErrBoundaryRegression,
	ErrPermissionDenied,
}

func (s *Service) storeErr(op string, err error) error {
	for _, domain := range domainErrs {
		if errors.Is(err, domain) {
			return err
		}
	}
	s.logger.Error(op, slog.Any("error", err))
	return ErrPersistence
}

func txnSnapshots(txns []ledger.Transaction) []txnSnapshot {
	snaps := make([]txnSnapshot, 0, len(txns))
	for _, t := range txns {
		snaps = append(snaps, txnSnapshot{ID: t.ID, Status: t.Status, MatchID: t.MatchID})
	}
	return snaps
}

func snapshotGroup(g match.Group) groupSnapshot {
	return groupSnapshot{
		ID:         g.ID,
		Status:     g.Status,
		Version:    g.Version,
		Difference: g.Difference.StringFixed(2),
	}
}

func adjustmentString(g match.Group) string {
	if g.Adjustment == nil {
		return "0.00"
	}
	return g.Adjustment.StringFixed(2)
}

func mustJSON(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
