package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// canonicalEntry is the fixed-field serialization used for hashing. All
// fields are scalars or raw JSON so json.Marshal produces a deterministic
// byte sequence for the same entry content.
type canonicalEntry struct {
	Timestamp     string          `json:"ts"`
	ActorID       int64           `json:"actor_id"`
	Context       string          `json:"ctx"`
	Action        string          `json:"action"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Before        json.RawMessage `json:"before,omitempty"`
	After         json.RawMessage `json:"after,omitempty"`
	Summary       string          `json:"summary"`
	Justification string          `json:"justification,omitempty"`
}

// ComputeHash derives the chain hash for an entry given its predecessor's
// stored hash. Timestamps are rendered at microsecond precision because
// that is what the timestamptz column retains; hashing finer precision
// would break verification after a round trip.
func ComputeHash(e Entry, previousHash string) string {
	canon := canonicalEntry{
		Timestamp:     e.Timestamp.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
		ActorID:       e.ActorID,
		Context:       e.Context,
		Action:        string(e.Action),
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		Before:        e.Before,
		After:         e.After,
		Summary:       e.Summary,
		Justification: e.Justification,
	}
	payload, _ := json.Marshal(canon)
	sum := sha256.Sum256(append(payload, []byte(previousHash)...))
	return hex.EncodeToString(sum[:])
}
