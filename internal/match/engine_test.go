package match

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ledgermatch/ledgermatch/internal/ledger"
)

type memTx struct {
	txns    map[int64]*ledger.Transaction
	groups  map[uuid.UUID]Group
	claimed map[int64]bool
}

func newMemTx(txns ...ledger.Transaction) *memTx {
	m := &memTx{
		txns:    make(map[int64]*ledger.Transaction),
		groups:  make(map[uuid.UUID]Group),
		claimed: make(map[int64]bool),
	}
	for i := range txns {
		t := txns[i]
		m.txns[t.ID] = &t
	}
	return m
}

func (m *memTx) TransactionsByIDs(_ context.Context, ids []int64) ([]ledger.Transaction, error) {
	out := make([]ledger.Transaction, 0, len(ids))
	for _, id := range ids {
		if t, ok := m.txns[id]; ok {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memTx) TransactionsByGroup(_ context.Context, groupID uuid.UUID) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, t := range m.txns {
		if t.MatchID != nil && *t.MatchID == groupID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memTx) ClaimTransactions(_ context.Context, ids []int64, groupID uuid.UUID) (int64, error) {
	var claimed int64
	for _, id := range ids {
		t, ok := m.txns[id]
		if !ok || t.Status != ledger.StatusUnmatched {
			continue
		}
		gid := groupID
		t.Status = ledger.StatusMatched
		t.MatchID = &gid
		claimed++
	}
	return claimed, nil
}

func (m *memTx) ReleaseGroupTransactions(_ context.Context, groupID uuid.UUID) (int64, error) {
	var released int64
	for _, t := range m.txns {
		if t.MatchID != nil && *t.MatchID == groupID {
			t.Status = ledger.StatusUnmatched
			t.MatchID = nil
			released++
		}
	}
	return released, nil
}

func (m *memTx) InsertGroup(_ context.Context, g Group) error {
	m.groups[g.ID] = g
	return nil
}

func (m *memTx) GroupByID(_ context.Context, id uuid.UUID) (Group, error) {
	g, ok := m.groups[id]
	if !ok {
		return Group{}, ErrGroupNotFound
	}
	return g, nil
}

func (m *memTx) DeleteGroup(_ context.Context, id uuid.UUID) (int64, error) {
	if _, ok := m.groups[id]; !ok {
		return 0, nil
	}
	delete(m.groups, id)
	return 1, nil
}

func txn(id int64, amount string, side ledger.Side) ledger.Transaction {
	return ledger.Transaction{
		ID:     id,
		Date:   time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
		Amount: decimal.RequireFromString(amount),
		Side:   side,
		Status: ledger.StatusUnmatched,
	}
}

func TestCreateMatchExactApproves(t *testing.T) {
	tx := newMemTx(txn(1, "100.00", ledger.SideLeft), txn(2, "100.00", ledger.SideRight))
	engine := NewEngine()

	group, before, err := engine.CreateMatch(context.Background(), tx, CreateInput{
		LeftIDs:  []int64{1},
		RightIDs: []int64{2},
		ActorID:  7,
	})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, group.Status)
	require.Nil(t, group.Adjustment)
	require.True(t, group.Difference.IsZero())
	require.Len(t, before, 2)
	require.Equal(t, ledger.StatusUnmatched, before[0].Status)
	require.Equal(t, ledger.StatusMatched, tx.txns[1].Status)
	require.NotNil(t, tx.txns[2].MatchID)
	require.EqualValues(t, 1, group.Version)
}

func TestCreateMatchWithinCeilingWritesOff(t *testing.T) {
	tx := newMemTx(txn(1, "105.00", ledger.SideLeft), txn(2, "100.00", ledger.SideRight))
	engine := NewEngine()

	group, _, err := engine.CreateMatch(context.Background(), tx, CreateInput{
		LeftIDs:  []int64{1},
		RightIDs: []int64{2},
		ActorID:  7,
		Ceiling:  decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, group.Status)
	require.NotNil(t, group.Adjustment)
	require.True(t, group.Adjustment.Equal(decimal.RequireFromString("5.00")))
	require.NotNil(t, group.ApprovedBy)
	require.EqualValues(t, 7, *group.ApprovedBy)
}

func TestCreateMatchBeyondCeilingPends(t *testing.T) {
	tx := newMemTx(txn(1, "150.00", ledger.SideLeft), txn(2, "100.00", ledger.SideRight))
	engine := NewEngine()

	group, _, err := engine.CreateMatch(context.Background(), tx, CreateInput{
		LeftIDs:  []int64{1},
		RightIDs: []int64{2},
		ActorID:  7,
		Ceiling:  decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, group.Status)
	require.NotNil(t, group.Adjustment)
	require.True(t, group.Adjustment.Equal(decimal.RequireFromString("50.00")))
	require.Nil(t, group.ApprovedBy)
	// Pending groups still claim their transactions.
	require.Equal(t, ledger.StatusMatched, tx.txns[1].Status)
}

func TestCreateMatchUnrestrictedIgnoresCeiling(t *testing.T) {
	tx := newMemTx(txn(1, "900.00", ledger.SideLeft), txn(2, "100.00", ledger.SideRight))
	engine := NewEngine()

	group, _, err := engine.CreateMatch(context.Background(), tx, CreateInput{
		LeftIDs:      []int64{1},
		RightIDs:     []int64{2},
		ActorID:      1,
		Unrestricted: true,
	})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, group.Status)
}

func TestCreateMatchEmptySelection(t *testing.T) {
	engine := NewEngine()
	_, _, err := engine.CreateMatch(context.Background(), newMemTx(), CreateInput{})
	require.ErrorIs(t, err, ErrEmptySelection)
}

func TestCreateMatchDuplicateSelection(t *testing.T) {
	tx := newMemTx(txn(1, "10.00", ledger.SideLeft))
	engine := NewEngine()
	_, _, err := engine.CreateMatch(context.Background(), tx, CreateInput{
		LeftIDs:  []int64{1},
		RightIDs: []int64{1},
	})
	require.ErrorIs(t, err, ErrInvalidSelection)
}

func TestCreateMatchUnknownTransaction(t *testing.T) {
	tx := newMemTx(txn(1, "10.00", ledger.SideLeft))
	engine := NewEngine()
	_, _, err := engine.CreateMatch(context.Background(), tx, CreateInput{
		LeftIDs:  []int64{1},
		RightIDs: []int64{99},
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestCreateMatchWrongSide(t *testing.T) {
	tx := newMemTx(txn(1, "10.00", ledger.SideRight), txn(2, "10.00", ledger.SideRight))
	engine := NewEngine()
	_, _, err := engine.CreateMatch(context.Background(), tx, CreateInput{
		LeftIDs:  []int64{1},
		RightIDs: []int64{2},
	})
	require.ErrorIs(t, err, ErrInvalidSelection)
}

func TestCreateMatchAlreadyMatched(t *testing.T) {
	matched := txn(1, "10.00", ledger.SideLeft)
	matched.Status = ledger.StatusMatched
	tx := newMemTx(matched, txn(2, "10.00", ledger.SideRight))
	engine := NewEngine()
	_, _, err := engine.CreateMatch(context.Background(), tx, CreateInput{
		LeftIDs:  []int64{1},
		RightIDs: []int64{2},
	})
	require.ErrorIs(t, err, ErrNotMatchable)
}

func TestCreateMatchPeriodLocked(t *testing.T) {
	tx := newMemTx(txn(1, "10.00", ledger.SideLeft), txn(2, "10.00", ledger.SideRight))
	engine := NewEngine()
	_, _, err := engine.CreateMatch(context.Background(), tx, CreateInput{
		LeftIDs:       []int64{1},
		RightIDs:      []int64{2},
		LockedThrough: time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, ErrPeriodLocked)
}

func TestCreateMatchClaimConflict(t *testing.T) {
	tx := newMemTx(txn(1, "10.00", ledger.SideLeft), txn(2, "10.00", ledger.SideRight))
	// Simulate a concurrent writer stealing a row after the read.
	conflicting := &claimStealingTx{memTx: tx}
	engine := NewEngine()
	_, _, err := engine.CreateMatch(context.Background(), conflicting, CreateInput{
		LeftIDs:  []int64{1},
		RightIDs: []int64{2},
	})
	require.ErrorIs(t, err, ErrClaimConflict)
}

type claimStealingTx struct {
	*memTx
}

func (c *claimStealingTx) ClaimTransactions(ctx context.Context, ids []int64, groupID uuid.UUID) (int64, error) {
	c.memTx.txns[ids[0]].Status = ledger.StatusMatched
	return c.memTx.ClaimTransactions(ctx, ids, groupID)
}

func TestUnmatchRestoresTransactions(t *testing.T) {
	tx := newMemTx(txn(1, "10.00", ledger.SideLeft), txn(2, "10.00", ledger.SideRight))
	engine := NewEngine()

	group, _, err := engine.CreateMatch(context.Background(), tx, CreateInput{
		LeftIDs:  []int64{1},
		RightIDs: []int64{2},
	})
	require.NoError(t, err)

	got, members, err := engine.Unmatch(context.Background(), tx, group.ID, time.Time{})
	require.NoError(t, err)
	require.Equal(t, group.ID, got.ID)
	require.Len(t, members, 2)
	require.Equal(t, ledger.StatusUnmatched, tx.txns[1].Status)
	require.Nil(t, tx.txns[1].MatchID)
	require.Empty(t, tx.groups)
}

func TestUnmatchMissingGroup(t *testing.T) {
	engine := NewEngine()
	_, _, err := engine.Unmatch(context.Background(), newMemTx(), uuid.New(), time.Time{})
	require.ErrorIs(t, err, ErrGroupNotFound)
}

func TestUnmatchPeriodLocked(t *testing.T) {
	tx := newMemTx(txn(1, "10.00", ledger.SideLeft), txn(2, "10.00", ledger.SideRight))
	engine := NewEngine()

	group, _, err := engine.CreateMatch(context.Background(), tx, CreateInput{
		LeftIDs:  []int64{1},
		RightIDs: []int64{2},
	})
	require.NoError(t, err)

	_, _, err = engine.Unmatch(context.Background(), tx, group.ID, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, ErrPeriodLocked)
	require.Equal(t, ledger.StatusMatched, tx.txns[1].Status)
}
