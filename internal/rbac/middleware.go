package rbac

import (
	"net/http"

	"github.com/ledgermatch/ledgermatch/internal/platform/httpx"
	"github.com/ledgermatch/ledgermatch/internal/shared"
)

// Middleware gates handlers on a required permission.
type Middleware struct {
	table Table
}

// NewMiddleware constructs the permission middleware over the static table.
func NewMiddleware(table Table) Middleware {
	return Middleware{table: table}
}

// Require rejects requests whose actor lacks the permission.
func (m Middleware) Require(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := shared.ActorFromContext(r.Context())
			if !actor.Valid() {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if !m.table.Can(Role(actor.Role), permission) {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
