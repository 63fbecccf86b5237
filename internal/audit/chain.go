package audit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// Tx is the transactional slice of the store the chain appends through.
// ChainTail must serialize concurrent appenders for the lifetime of the
// surrounding transaction so two appends can never share a previous hash.
type Tx interface {
	ChainTail(ctx context.Context) (string, error)
	InsertEntry(ctx context.Context, e Entry) (Entry, error)
}

// EntryLister provides the read-only projections over stored entries.
type EntryLister interface {
	EntriesAfter(ctx context.Context, afterID int64, limit int) ([]Entry, error)
	EntriesByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]Entry, error)
	EntriesByActor(ctx context.Context, actorID int64, from, to time.Time) ([]Entry, error)
}

const verifyBatchSize = 500

// Chain computes and verifies the tamper-evident hash chain.
type Chain struct {
	now         func() time.Time
	verifyGroup singleflight.Group
}

// NewChain constructs a Chain.
func NewChain() *Chain {
	return &Chain{now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (c *Chain) WithNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// AppendIn writes one entry inside the caller's transaction. The entry's
// hash fields are populated from the current chain tail; the timestamp is
// truncated to the precision the store retains.
func (c *Chain) AppendIn(ctx context.Context, tx Tx, e Entry) (Entry, error) {
	if err := e.validate(); err != nil {
		return Entry{}, err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = c.now()
	}
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Microsecond)

	tail, err := tx.ChainTail(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: read chain tail: %w", err)
	}
	e.PreviousHash = tail
	e.CurrentHash = ComputeHash(e, tail)

	inserted, err := tx.InsertEntry(ctx, e)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: insert entry: %w", err)
	}
	return inserted, nil
}

// Verify walks the whole log in insertion order, recomputing each entry's
// hash from its stored fields and the predecessor's stored hash. The first
// mismatch stops the walk. Concurrent verifications share a single walk.
func (c *Chain) Verify(ctx context.Context, lister EntryLister) (VerifyResult, error) {
	v, err, _ := c.verifyGroup.Do("verify", func() (any, error) {
		// The walk is shared by every coalesced caller and must not die
		// with the first caller's context.
		return c.walk(context.WithoutCancel(ctx), lister)
	})
	if err != nil {
		return VerifyResult{}, err
	}
	return v.(VerifyResult), nil
}

func (c *Chain) walk(ctx context.Context, lister EntryLister) (VerifyResult, error) {
	var (
		prevHash string
		afterID  int64
		checked  int
	)
	for {
		batch, err := lister.EntriesAfter(ctx, afterID, verifyBatchSize)
		if err != nil {
			return VerifyResult{}, err
		}
		for _, e := range batch {
			if e.PreviousHash != prevHash || ComputeHash(e, e.PreviousHash) != e.CurrentHash {
				broken := e.ID
				return VerifyResult{Valid: false, BrokenAt: &broken, Checked: checked}, nil
			}
			prevHash = e.CurrentHash
			afterID = e.ID
			checked++
		}
		if len(batch) < verifyBatchSize {
			return VerifyResult{Valid: true, Checked: checked}, nil
		}
	}
}

// EntityTrail returns the audit history of one entity, newest first.
func (c *Chain) EntityTrail(ctx context.Context, lister EntryLister, entityType, entityID string, limit, offset int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return lister.EntriesByEntity(ctx, entityType, entityID, limit, offset)
}

// ActivitySummary aggregates one actor's recorded actions inside a window.
type ActivitySummary struct {
	ActorID  int64          `json:"actor_id"`
	From     time.Time      `json:"from"`
	To       time.Time      `json:"to"`
	Total    int            `json:"total"`
	ByAction map[string]int `json:"by_action"`
}

// UserActivity summarises an actor's entries between from and to.
func (c *Chain) UserActivity(ctx context.Context, lister EntryLister, actorID int64, from, to time.Time) (ActivitySummary, error) {
	if to.IsZero() {
		to = c.now().UTC()
	}
	entries, err := lister.EntriesByActor(ctx, actorID, from, to)
	if err != nil {
		return ActivitySummary{}, err
	}
	summary := ActivitySummary{
		ActorID:  actorID,
		From:     from,
		To:       to,
		Total:    len(entries),
		ByAction: make(map[string]int),
	}
	for _, e := range entries {
		summary.ByAction[string(e.Action)]++
	}
	return summary, nil
}
