package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ledgermatch/ledgermatch/internal/audit"
	"github.com/ledgermatch/ledgermatch/internal/platform/httpx"
	"github.com/ledgermatch/ledgermatch/internal/rbac"
	"github.com/ledgermatch/ledgermatch/internal/shared"
)

type authEvents interface {
	RecordAuthEvent(ctx context.Context, actor shared.Actor, action audit.Action, sessionID string) error
}

// Handler exposes session issue/revoke endpoints.
type Handler struct {
	store  *TokenStore
	events authEvents
	logger *slog.Logger
	rbac   rbac.Middleware
}

// NewHandler constructs the auth handler.
func NewHandler(store *TokenStore, events authEvents, logger *slog.Logger, mw rbac.Middleware) *Handler {
	return &Handler{store: store, events: events, logger: logger, rbac: mw}
}

// MountRoutes registers session endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.Require(rbac.PermManageUsers)).Post("/auth/sessions", h.handleIssue)
	r.Delete("/auth/sessions/current", h.handleRevoke)
}

type issueRequest struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

type issueResponse struct {
	Token string `json:"token"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if req.UserID <= 0 || req.Role == "" {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	subject := shared.Actor{ID: req.UserID, Email: req.Email, Role: req.Role}
	token, err := h.store.Issue(r.Context(), subject)
	if err != nil {
		h.logger.Error("issue token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if err := h.events.RecordAuthEvent(r.Context(), subject, audit.ActionLogin, token[:8]); err != nil {
		h.logger.Error("record login", slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusCreated, issueResponse{Token: token})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if !actor.Valid() {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	token := bearerToken(r)
	if err := h.store.Revoke(r.Context(), token); err != nil {
		h.logger.Error("revoke token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if err := h.events.RecordAuthEvent(r.Context(), actor, audit.ActionLogout, token[:8]); err != nil {
		h.logger.Error("record logout", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}
