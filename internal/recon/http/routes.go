package reconhttp

import (
	"github.com/go-chi/chi/v5"

	"github.com/ledgermatch/ledgermatch/internal/rbac"
)

// MountRoutes attaches the reconciliation endpoints. Every mutating route
// carries its own permission gate so the router stays declarative.
func (h *Handler) MountRoutes(r chi.Router, gate rbac.Middleware) {
	r.Route("/matches", func(r chi.Router) {
		r.With(gate.Require(rbac.PermPerformMatching)).Post("/", h.handleCreateMatch)
		r.Get("/", h.handleListGroups)
		r.Get("/{id}", h.handleGetGroup)
		r.With(gate.Require(rbac.PermApproveAdjustments)).Post("/{id}/approve", h.handleApprove)
		r.With(gate.Require(rbac.PermApproveAdjustments)).Post("/{id}/reject", h.handleReject)
		r.With(gate.Require(rbac.PermUnmatch)).Delete("/{id}", h.handleUnmatch)
		r.With(gate.Require(rbac.PermUnmatch)).Post("/batch-unmatch", h.handleBatchUnmatch)
		r.With(gate.Require(rbac.PermApproveAdjustments)).Post("/batch-approve", h.handleBatchApprove)
	})

	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", h.handleListTransactions)
		r.With(gate.Require(rbac.PermImport)).Post("/import", h.handleImport)
		r.With(gate.Require(rbac.PermPerformMatching)).Post("/{id}/dispute", h.handleDispute)
	})

	r.Route("/period-lock", func(r chi.Router) {
		r.Get("/", h.handleGetPeriodLock)
		r.With(gate.Require(rbac.PermManagePeriods)).Put("/", h.handleSetPeriodLock)
	})
}
