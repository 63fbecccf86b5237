package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/ledgermatch/ledgermatch/internal/shared"
)

// Middleware resolves the Authorization header into an actor in context.
// Requests without a valid token pass through unauthenticated; permission
// middleware downstream rejects them where it matters.
func Middleware(store *TokenStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			actor, err := store.Resolve(r.Context(), token)
			if err != nil {
				if err != ErrTokenUnknown {
					logger.Warn("resolve token", slog.Any("error", err))
				}
				next.ServeHTTP(w, r)
				return
			}
			actor.Device = r.Header.Get("X-Device-ID")
			if actor.Device == "" {
				actor.Device = r.UserAgent()
			}
			ctx := shared.ContextWithActor(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
