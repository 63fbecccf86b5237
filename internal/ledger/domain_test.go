package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func validRecord() ImportRecord {
	return ImportRecord{
		Date:        time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Description: "wire transfer",
		Amount:      decimal.RequireFromString("12.34"),
		Side:        SideLeft,
		Category:    CategoryInternalCredit,
		ContentHash: "abc123",
	}
}

func TestImportRecordValidate(t *testing.T) {
	require.NoError(t, validRecord().Validate())

	r := validRecord()
	r.Date = time.Time{}
	require.Error(t, r.Validate())

	r = validRecord()
	r.ContentHash = "   "
	require.Error(t, r.Validate())

	r = validRecord()
	r.Side = "MIDDLE"
	require.Error(t, r.Validate())

	r = validRecord()
	r.Category = "MISC"
	require.Error(t, r.Validate())
}
