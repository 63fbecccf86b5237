package audit

import (
	"encoding/json"
	"errors"
	"time"
)

// Action enumerates the recorded state-changing action types.
type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionDelete  Action = "DELETE"
	ActionApprove Action = "APPROVE"
	ActionMatch   Action = "MATCH"
	ActionUnmatch Action = "UNMATCH"
	ActionImport  Action = "IMPORT"
	ActionExport  Action = "EXPORT"
	ActionLogin   Action = "LOGIN"
	ActionLogout  Action = "LOGOUT"
)

// Entry is one immutable, append-only audit record. CurrentHash covers the
// entry's canonical content concatenated with PreviousHash, so entries form
// a tamper-evident chain in insertion order.
type Entry struct {
	ID            int64           `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	ActorID       int64           `json:"actor_id"`
	Context       string          `json:"context,omitempty"`
	Action        Action          `json:"action"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Before        json.RawMessage `json:"before,omitempty"`
	After         json.RawMessage `json:"after,omitempty"`
	Summary       string          `json:"summary,omitempty"`
	Justification string          `json:"justification,omitempty"`
	PreviousHash  string          `json:"previous_hash"`
	CurrentHash   string          `json:"current_hash"`
}

// VerifyResult reports the outcome of a full chain walk.
type VerifyResult struct {
	Valid    bool   `json:"valid"`
	BrokenAt *int64 `json:"broken_at,omitempty"`
	Checked  int    `json:"checked"`
}

var (
	// ErrChainBroken signals a hash mismatch. It is fatal for dependent
	// write paths and must never be auto-repaired.
	ErrChainBroken = errors.New("audit: hash chain broken")
	// ErrInvalidEntry indicates a malformed entry submitted for append.
	ErrInvalidEntry = errors.New("audit: invalid entry")
)

func (e Entry) validate() error {
	if e.ActorID == 0 || e.Action == "" || e.EntityType == "" || e.EntityID == "" {
		return ErrInvalidEntry
	}
	return nil
}
