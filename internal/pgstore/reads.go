package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ledgermatch/ledgermatch/internal/audit"
	"github.com/ledgermatch/ledgermatch/internal/ledger"
	"github.com/ledgermatch/ledgermatch/internal/match"
	"github.com/ledgermatch/ledgermatch/internal/periods"
)

func parseAmount(value string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pgstore: parse amount %q: %w", value, err)
	}
	return amount, nil
}

// Transactions lists transactions matching the filter, newest date first.
func (s *Store) Transactions(ctx context.Context, filter ledger.ListFilter) ([]ledger.Transaction, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = "+arg(string(filter.Status)))
	}
	if filter.Side != "" {
		conditions = append(conditions, "side = "+arg(string(filter.Side)))
	}
	if !filter.DateFrom.IsZero() {
		conditions = append(conditions, "tx_date >= "+arg(filter.DateFrom))
	}
	if !filter.DateTo.IsZero() {
		conditions = append(conditions, "tx_date <= "+arg(filter.DateTo))
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += fmt.Sprintf(" ORDER BY tx_date DESC, id DESC LIMIT %s OFFSET %s", arg(limit), arg(offset))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// TransactionByID loads one transaction.
func (s *Store) TransactionByID(ctx context.Context, id int64) (ledger.Transaction, error) {
	t, err := scanTransaction(s.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	return t, err
}

// Group loads one match group outside a transaction.
func (s *Store) Group(ctx context.Context, id uuid.UUID) (match.Group, error) {
	g, err := scanGroup(s.pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM match_groups WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return match.Group{}, match.ErrGroupNotFound
	}
	return g, err
}

// Groups lists match groups, optionally filtered by status, newest first.
func (s *Store) Groups(ctx context.Context, status match.GroupStatus, limit, offset int) ([]match.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM match_groups`
	args := []any{limit, offset}
	if status != "" {
		query += ` WHERE status = $3`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []match.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// PeriodLock reads the single boundary row; a missing row means nothing is
// locked.
func (s *Store) PeriodLock(ctx context.Context) (periods.Lock, error) {
	var lock periods.Lock
	err := s.pool.QueryRow(ctx, `SELECT locked_through, set_by, updated_at FROM period_lock WHERE id = 1`).
		Scan(&lock.Through, &lock.SetBy, &lock.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return periods.Lock{}, nil
	}
	return lock, err
}

const entryColumns = `id, at, actor_id, session_ctx, action, entity_type, entity_id, before_state, after_state, summary, justification, previous_hash, current_hash`

func scanEntry(row pgx.Row) (audit.Entry, error) {
	var (
		e             audit.Entry
		before, after *string
	)
	err := row.Scan(&e.ID, &e.Timestamp, &e.ActorID, &e.Context, &e.Action, &e.EntityType, &e.EntityID,
		&before, &after, &e.Summary, &e.Justification, &e.PreviousHash, &e.CurrentHash)
	if err != nil {
		return audit.Entry{}, err
	}
	e.Before = rawJSON(before)
	e.After = rawJSON(after)
	return e, nil
}

func rawJSON(s *string) json.RawMessage {
	if s == nil {
		return nil
	}
	return json.RawMessage(*s)
}

func collectEntries(rows pgx.Rows) ([]audit.Entry, error) {
	defer rows.Close()
	var entries []audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// EntriesAfter returns up to limit entries with id greater than afterID in
// insertion order, for chain verification walks.
func (s *Store) EntriesAfter(ctx context.Context, afterID int64, limit int) ([]audit.Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+entryColumns+` FROM audit_entries WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// EntriesByEntity returns an entity's audit trail, newest first.
func (s *Store) EntriesByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]audit.Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+entryColumns+` FROM audit_entries
WHERE entity_type = $1 AND entity_id = $2 ORDER BY id DESC LIMIT $3 OFFSET $4`, entityType, entityID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// EntriesByActor returns one actor's entries inside a time window.
func (s *Store) EntriesByActor(ctx context.Context, actorID int64, from, to time.Time) ([]audit.Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+entryColumns+` FROM audit_entries
WHERE actor_id = $1 AND at >= $2 AND at <= $3 ORDER BY id`, actorID, from, to)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}
