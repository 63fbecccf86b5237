package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memLog struct {
	entries []Entry
}

func (m *memLog) ChainTail(_ context.Context) (string, error) {
	if len(m.entries) == 0 {
		return "", nil
	}
	return m.entries[len(m.entries)-1].CurrentHash, nil
}

func (m *memLog) InsertEntry(_ context.Context, e Entry) (Entry, error) {
	e.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *memLog) EntriesAfter(_ context.Context, afterID int64, limit int) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		if e.ID > afterID {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memLog) EntriesByEntity(_ context.Context, entityType, entityID string, limit, offset int) ([]Entry, error) {
	var matched []Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.EntityType == entityType && e.EntityID == entityID {
			matched = append(matched, e)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *memLog) EntriesByActor(_ context.Context, actorID int64, from, to time.Time) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		if e.ActorID == actorID && !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func appendN(t *testing.T, chain *Chain, log *memLog, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := chain.AppendIn(context.Background(), log, Entry{
			ActorID:    int64(i%3 + 1),
			Action:     ActionMatch,
			EntityType: "match_group",
			EntityID:   fmt.Sprintf("group-%d", i),
			Summary:    fmt.Sprintf("entry %d", i),
		})
		require.NoError(t, err)
	}
}

func TestAppendLinksHashes(t *testing.T) {
	log := &memLog{}
	chain := NewChain()

	appendN(t, chain, log, 3)

	require.Empty(t, log.entries[0].PreviousHash)
	require.Equal(t, log.entries[0].CurrentHash, log.entries[1].PreviousHash)
	require.Equal(t, log.entries[1].CurrentHash, log.entries[2].PreviousHash)
	for _, e := range log.entries {
		require.Equal(t, ComputeHash(e, e.PreviousHash), e.CurrentHash)
	}
}

func TestAppendRejectsInvalidEntry(t *testing.T) {
	chain := NewChain()
	_, err := chain.AppendIn(context.Background(), &memLog{}, Entry{Action: ActionMatch})
	require.ErrorIs(t, err, ErrInvalidEntry)
}

func TestVerifyEmptyChain(t *testing.T) {
	chain := NewChain()
	result, err := chain.Verify(context.Background(), &memLog{})
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Zero(t, result.Checked)
}

func TestVerifyIntactChain(t *testing.T) {
	log := &memLog{}
	chain := NewChain()
	appendN(t, chain, log, 25)

	result, err := chain.Verify(context.Background(), log)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, 25, result.Checked)
	require.Nil(t, result.BrokenAt)
}

func TestVerifyDetectsTamperedContent(t *testing.T) {
	log := &memLog{}
	chain := NewChain()
	appendN(t, chain, log, 10)

	log.entries[4].Summary = "rewritten after the fact"

	result, err := chain.Verify(context.Background(), log)
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.NotNil(t, result.BrokenAt)
	require.EqualValues(t, 5, *result.BrokenAt)
	require.Equal(t, 4, result.Checked)
}

func TestVerifyDetectsRelinkedHashes(t *testing.T) {
	log := &memLog{}
	chain := NewChain()
	appendN(t, chain, log, 6)

	// Rewrite an entry and recompute its own hash without fixing successors.
	log.entries[2].Summary = "tampered"
	log.entries[2].CurrentHash = ComputeHash(log.entries[2], log.entries[2].PreviousHash)

	result, err := chain.Verify(context.Background(), log)
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.EqualValues(t, 4, *result.BrokenAt)
}

func TestVerifyHashesSnapshotBytesVerbatim(t *testing.T) {
	log := &memLog{}
	chain := NewChain()

	_, err := chain.AppendIn(context.Background(), log, Entry{
		ActorID:    1,
		Action:     ActionUpdate,
		EntityType: "transaction",
		EntityID:   "7",
		Before:     json.RawMessage(`{"zz":1,"description":"A <&> B"}`),
		After:      json.RawMessage(`{"zz":2,"description":"A <&> B"}`),
	})
	require.NoError(t, err)

	result, err := chain.Verify(context.Background(), log)
	require.NoError(t, err)
	require.True(t, result.Valid)

	// Reordering the stored snapshot's keys changes the hashed bytes, so
	// any storage-side normalisation reads as tampering.
	log.entries[0].Before = json.RawMessage(`{"description":"A <&> B","zz":1}`)

	result, err = chain.Verify(context.Background(), log)
	require.NoError(t, err)
	require.False(t, result.Valid)
}

type cancelAwareLog struct {
	memLog
}

func (c *cancelAwareLog) EntriesAfter(ctx context.Context, afterID int64, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.memLog.EntriesAfter(ctx, afterID, limit)
}

func TestVerifySurvivesCallerCancellation(t *testing.T) {
	log := &cancelAwareLog{}
	chain := NewChain()
	appendN(t, chain, &log.memLog, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := chain.Verify(ctx, log)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, 3, result.Checked)
}

func TestVerifyIsRepeatable(t *testing.T) {
	log := &memLog{}
	chain := NewChain()
	appendN(t, chain, log, 4)

	first, err := chain.Verify(context.Background(), log)
	require.NoError(t, err)
	second, err := chain.Verify(context.Background(), log)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestEntityTrailClampsPaging(t *testing.T) {
	log := &memLog{}
	chain := NewChain()
	for i := 0; i < 5; i++ {
		_, err := chain.AppendIn(context.Background(), log, Entry{
			ActorID:    1,
			Action:     ActionUpdate,
			EntityType: "transaction",
			EntityID:   "42",
			Summary:    fmt.Sprintf("edit %d", i),
		})
		require.NoError(t, err)
	}

	entries, err := chain.EntityTrail(context.Background(), log, "transaction", "42", -1, -3)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	// Newest first.
	require.EqualValues(t, 5, entries[0].ID)
}

func TestUserActivitySummarises(t *testing.T) {
	log := &memLog{}
	chain := NewChain()
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	chain.WithNow(func() time.Time { return base })

	for i := 0; i < 4; i++ {
		action := ActionMatch
		if i%2 == 1 {
			action = ActionImport
		}
		_, err := chain.AppendIn(context.Background(), log, Entry{
			ActorID:    7,
			Action:     action,
			EntityType: "transaction",
			EntityID:   "1",
		})
		require.NoError(t, err)
	}

	summary, err := chain.UserActivity(context.Background(), log, 7, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 4, summary.Total)
	require.Equal(t, 2, summary.ByAction[string(ActionMatch)])
	require.Equal(t, 2, summary.ByAction[string(ActionImport)])
}
