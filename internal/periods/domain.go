// Package periods models the administrative period-lock boundary. Any
// transaction dated on or before the locked-through date is immutable for
// matching purposes.
package periods

import (
	"errors"
	"time"
)

// Lock is the single locked-through boundary row.
type Lock struct {
	Through   time.Time
	SetBy     int64
	UpdatedAt time.Time
}

// ErrBoundaryRegression indicates an attempt to move the lock backwards.
var ErrBoundaryRegression = errors.New("periods: lock boundary cannot move backwards")

// Covers reports whether the date falls inside the locked window.
// A zero boundary locks nothing.
func (l Lock) Covers(date time.Time) bool {
	if l.Through.IsZero() {
		return false
	}
	return !date.After(l.Through)
}

// Advance validates a new boundary against the current one.
func (l Lock) Advance(through time.Time) error {
	if through.Before(l.Through) {
		return ErrBoundaryRegression
	}
	return nil
}
