package shared

import "strings"

// Actor describes the authenticated identity performing an operation.
// It is resolved by the auth middleware and carried through context; the
// core never manages credentials itself.
type Actor struct {
	ID     int64
	Email  string
	Role   string
	Device string
}

// Valid reports whether the actor carries a usable identity.
func (a Actor) Valid() bool {
	return a.ID > 0 && strings.TrimSpace(a.Role) != ""
}
