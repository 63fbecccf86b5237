package pgstore

import (
	"encoding/json"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

// The conditional writes and the chain tail read both depend on
// statement-level snapshots. Under repeatable read a writer that waited
// on a row lock aborts with a serialization failure instead of reporting
// zero affected rows, and a tail read issued after the advisory lock is
// granted can still miss the previous holder's committed entry.
func TestTxIsolationIsReadCommitted(t *testing.T) {
	require.Equal(t, pgx.ReadCommitted, txOptions.IsoLevel)
}

func TestJSONTextRoundTrip(t *testing.T) {
	raw := json.RawMessage(`{"zz":1,"a":"x <&> y"}`)

	stored := jsonText(raw)
	require.NotNil(t, stored)
	require.Equal(t, string(raw), *stored)
	require.Equal(t, raw, rawJSON(stored))

	require.Nil(t, jsonText(nil))
	require.Nil(t, rawJSON(nil))
}
