package periods

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCovers(t *testing.T) {
	lock := Lock{Through: date(2026, 7, 31)}

	require.True(t, lock.Covers(date(2026, 7, 31)))
	require.True(t, lock.Covers(date(2026, 6, 1)))
	require.False(t, lock.Covers(date(2026, 8, 1)))
}

func TestZeroBoundaryLocksNothing(t *testing.T) {
	require.False(t, Lock{}.Covers(date(1990, 1, 1)))
}

func TestAdvance(t *testing.T) {
	lock := Lock{Through: date(2026, 7, 31)}

	require.NoError(t, lock.Advance(date(2026, 8, 31)))
	require.NoError(t, lock.Advance(date(2026, 7, 31)))
	require.ErrorIs(t, lock.Advance(date(2026, 6, 30)), ErrBoundaryRegression)
}
