// Package pgstore implements the reconciliation store over PostgreSQL.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgermatch/ledgermatch/internal/audit"
	"github.com/ledgermatch/ledgermatch/internal/ledger"
	"github.com/ledgermatch/ledgermatch/internal/match"
	"github.com/ledgermatch/ledgermatch/internal/periods"
	"github.com/ledgermatch/ledgermatch/internal/recon"
)

// chainLockKey serializes audit appends across all writers. Any two
// transactions appending to the chain contend on this advisory lock, so a
// fork of the chain tail is impossible.
const chainLockKey = 0x4C4D5F4155444954 // "LM_AUDIT"

// Store is the PostgreSQL-backed ledger store.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store using the provided pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// txOptions pins every unit of work to read committed. Each statement
// gets a fresh snapshot, so the chain tail read issued after the advisory
// lock is granted sees the newest committed entry, and a conditional
// UPDATE that waited on a concurrent writer re-evaluates its WHERE clause
// and reports zero affected rows instead of aborting.
var txOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// WithTx executes fn inside one transaction. Any error rolls the whole
// unit back; no partial state survives.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, recon.Tx) error) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("pgstore: not initialised")
	}
	tx, err := s.pool.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("pgstore: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(ctx, &txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: commit tx: %w", err)
	}
	return nil
}

// txStore exposes row operations bound to one open transaction.
type txStore struct {
	tx pgx.Tx
}

const transactionColumns = `id, tx_date, description, amount::text, side, category, status, match_id, imported_by, content_hash, created_at, updated_at`

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var (
		t      ledger.Transaction
		amount string
	)
	err := row.Scan(&t.ID, &t.Date, &t.Description, &amount, &t.Side, &t.Category, &t.Status,
		&t.MatchID, &t.ImportedBy, &t.ContentHash, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if t.Amount, err = parseAmount(amount); err != nil {
		return ledger.Transaction{}, err
	}
	return t, nil
}

func collectTransactions(rows pgx.Rows) ([]ledger.Transaction, error) {
	defer rows.Close()
	var txns []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// TransactionsByIDs loads the referenced transactions in one read.
func (t *txStore) TransactionsByIDs(ctx context.Context, ids []int64) ([]ledger.Transaction, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// TransactionsByGroup loads all members of a match group.
func (t *txStore) TransactionsByGroup(ctx context.Context, groupID uuid.UUID) ([]ledger.Transaction, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE match_id = $1 ORDER BY id`, groupID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// ClaimTransactions marks the transactions MATCHED and assigns the group,
// conditional on their current UNMATCHED status.
func (t *txStore) ClaimTransactions(ctx context.Context, ids []int64, groupID uuid.UUID) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE transactions
SET status = 'MATCHED', match_id = $2, updated_at = NOW()
WHERE id = ANY($1) AND status = 'UNMATCHED'`, ids, groupID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReleaseGroupTransactions reverts a group's members to UNMATCHED with the
// group reference cleared.
func (t *txStore) ReleaseGroupTransactions(ctx context.Context, groupID uuid.UUID) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE transactions
SET status = 'UNMATCHED', match_id = NULL, updated_at = NOW()
WHERE match_id = $1`, groupID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpdateTransactionStatus flips a transaction between two statuses.
func (t *txStore) UpdateTransactionStatus(ctx context.Context, id int64, from, to ledger.Status) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE transactions
SET status = $3, updated_at = NOW()
WHERE id = $1 AND status = $2`, id, string(from), string(to))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InsertTransactions inserts import records, ignoring content-hash
// duplicates, and reports the number actually inserted.
func (t *txStore) InsertTransactions(ctx context.Context, records []ledger.ImportRecord, importedBy int64) (int64, error) {
	var inserted int64
	for _, r := range records {
		tag, err := t.tx.Exec(ctx, `INSERT INTO transactions
(tx_date, description, amount, side, category, status, imported_by, content_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 'UNMATCHED', $6, $7, NOW(), NOW())
ON CONFLICT (content_hash) DO NOTHING`,
			r.Date, r.Description, r.Amount.String(), string(r.Side), string(r.Category), importedBy, r.ContentHash)
		if err != nil {
			return inserted, err
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

const groupColumns = `id, left_ids, right_ids, total_left::text, total_right::text, difference::text, adjustment::text, comment, status, created_by, approved_by, approved_at, version, created_at, updated_at`

func scanGroup(row pgx.Row) (match.Group, error) {
	var (
		g                           match.Group
		totalLeft, totalRight, diff string
		adjustment                  *string
	)
	err := row.Scan(&g.ID, &g.LeftIDs, &g.RightIDs, &totalLeft, &totalRight, &diff, &adjustment,
		&g.Comment, &g.Status, &g.CreatedBy, &g.ApprovedBy, &g.ApprovedAt, &g.Version, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return match.Group{}, err
	}
	if g.TotalLeft, err = parseAmount(totalLeft); err != nil {
		return match.Group{}, err
	}
	if g.TotalRight, err = parseAmount(totalRight); err != nil {
		return match.Group{}, err
	}
	if g.Difference, err = parseAmount(diff); err != nil {
		return match.Group{}, err
	}
	if adjustment != nil {
		adj, err := parseAmount(*adjustment)
		if err != nil {
			return match.Group{}, err
		}
		g.Adjustment = &adj
	}
	return g, nil
}

// InsertGroup persists a new match group.
func (t *txStore) InsertGroup(ctx context.Context, g match.Group) error {
	var adjustment *string
	if g.Adjustment != nil {
		v := g.Adjustment.String()
		adjustment = &v
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO match_groups
(id, left_ids, right_ids, total_left, total_right, difference, adjustment, comment, status, created_by, approved_by, approved_at, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		g.ID, g.LeftIDs, g.RightIDs, g.TotalLeft.String(), g.TotalRight.String(), g.Difference.String(),
		adjustment, g.Comment, string(g.Status), g.CreatedBy, g.ApprovedBy, g.ApprovedAt, g.Version, g.CreatedAt, g.UpdatedAt)
	return err
}

// GroupByID loads one match group.
func (t *txStore) GroupByID(ctx context.Context, id uuid.UUID) (match.Group, error) {
	g, err := scanGroup(t.tx.QueryRow(ctx, `SELECT `+groupColumns+` FROM match_groups WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return match.Group{}, match.ErrGroupNotFound
	}
	return g, err
}

// DeleteGroup removes a match group row.
func (t *txStore) DeleteGroup(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM match_groups WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpdateGroupDecision performs the version-conditioned decision write.
func (t *txStore) UpdateGroupDecision(ctx context.Context, id uuid.UUID, version int64, status match.GroupStatus, decidedBy int64, decidedAt time.Time) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE match_groups
SET status = $3, approved_by = $4, approved_at = $5, version = version + 1, updated_at = $5
WHERE id = $1 AND version = $2`, id, version, string(status), decidedBy, decidedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ChainTail serializes chain appends on a global advisory lock for the
// lifetime of the transaction, then returns the stored tail hash. The
// tail read must run after the lock is granted and under read committed,
// so a writer that waited on the lock observes the previous holder's
// committed entry.
func (t *txStore) ChainTail(ctx context.Context) (string, error) {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(chainLockKey)); err != nil {
		return "", err
	}
	var tail string
	err := t.tx.QueryRow(ctx, `SELECT current_hash FROM audit_entries ORDER BY id DESC LIMIT 1`).Scan(&tail)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return tail, err
}

// InsertEntry appends one audit entry with both hash fields populated.
// Snapshots are stored as text so the bytes covered by the hash come back
// byte-identical; jsonb would reorder keys and rewrite escapes.
func (t *txStore) InsertEntry(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO audit_entries
(at, actor_id, session_ctx, action, entity_type, entity_id, before_state, after_state, summary, justification, previous_hash, current_hash)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`,
		e.Timestamp, e.ActorID, e.Context, string(e.Action), e.EntityType, e.EntityID,
		jsonText(e.Before), jsonText(e.After), e.Summary, e.Justification, e.PreviousHash, e.CurrentHash).Scan(&e.ID)
	return e, err
}

func jsonText(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

// SetPeriodLock upserts the single boundary row.
func (t *txStore) SetPeriodLock(ctx context.Context, lock periods.Lock) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO period_lock (id, locked_through, set_by, updated_at)
VALUES (1, $1, $2, NOW())
ON CONFLICT (id) DO UPDATE SET locked_through = EXCLUDED.locked_through, set_by = EXCLUDED.set_by, updated_at = NOW()`,
		lock.Through, lock.SetBy)
	return err
}
