// Package audithttp exposes read access to the audit chain.
package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/ledgermatch/ledgermatch/internal/audit"
	"github.com/ledgermatch/ledgermatch/internal/platform/httpx"
	"github.com/ledgermatch/ledgermatch/internal/rbac"
	reconhttp "github.com/ledgermatch/ledgermatch/internal/recon/http"
)

type auditService interface {
	EntityAuditTrail(ctx context.Context, entityType, entityID string, limit, offset int) ([]audit.Entry, error)
	UserActivity(ctx context.Context, actorID int64, from, to time.Time) (audit.ActivitySummary, error)
	VerifyAuditChain(ctx context.Context) (audit.VerifyResult, error)
}

// Handler serves the audit trail, activity summaries and chain verification.
type Handler struct {
	service auditService
	logger  *slog.Logger
}

func NewHandler(service auditService, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// MountRoutes attaches the audit endpoints. Verification walks the whole
// chain, so it gets a tight per-client rate limit.
func (h *Handler) MountRoutes(r chi.Router, gate rbac.Middleware) {
	r.Route("/audit", func(r chi.Router) {
		r.Use(gate.Require(rbac.PermViewAudit))
		r.Get("/trail/{entityType}/{entityID}", h.handleEntityTrail)
		r.Get("/activity/{actorID}", h.handleUserActivity)
		r.With(httprate.LimitByIP(6, time.Minute)).Post("/verify", h.handleVerify)
	})
}

func (h *Handler) handleEntityTrail(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	entityID := chi.URLParam(r, "entityID")
	if entityType == "" || entityID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "entity type and id are required")
		return
	}
	query := r.URL.Query()
	entries, err := h.service.EntityAuditTrail(r.Context(), entityType, entityID,
		intQuery(query.Get("limit")), intQuery(query.Get("offset")))
	if err != nil {
		reconhttp.RespondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleUserActivity(w http.ResponseWriter, r *http.Request) {
	actorID, err := strconv.ParseInt(chi.URLParam(r, "actorID"), 10, 64)
	if err != nil || actorID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid actor id")
		return
	}
	query := r.URL.Query()
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if raw := query.Get("from"); raw != "" {
		if parsed, perr := time.Parse("2006-01-02", raw); perr == nil {
			from = parsed
		}
	}
	if raw := query.Get("to"); raw != "" {
		if parsed, perr := time.Parse("2006-01-02", raw); perr == nil {
			to = parsed.AddDate(0, 0, 1)
		}
	}
	summary, err := h.service.UserActivity(r.Context(), actorID, from, to)
	if err != nil {
		reconhttp.RespondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.VerifyAuditChain(r.Context())
	if err != nil {
		reconhttp.RespondServiceError(w, err)
		return
	}
	status := http.StatusOK
	if !result.Valid {
		status = http.StatusConflict
		h.logger.Error("audit chain verification failed",
			slog.Int64("broken_at", derefID(result.BrokenAt)),
			slog.Int("checked", result.Checked))
	}
	httpx.JSON(w, status, result)
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

func intQuery(raw string) int {
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
