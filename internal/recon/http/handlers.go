// Package reconhttp exposes the reconciliation operations as a JSON API.
package reconhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgermatch/ledgermatch/internal/approval"
	"github.com/ledgermatch/ledgermatch/internal/audit"
	"github.com/ledgermatch/ledgermatch/internal/ledger"
	"github.com/ledgermatch/ledgermatch/internal/match"
	"github.com/ledgermatch/ledgermatch/internal/periods"
	"github.com/ledgermatch/ledgermatch/internal/platform/httpx"
	"github.com/ledgermatch/ledgermatch/internal/recon"
	"github.com/ledgermatch/ledgermatch/internal/shared"
)

const dateLayout = "2006-01-02"

var validate = validator.New()

// Handler wires HTTP endpoints for matching and ledger operations.
type Handler struct {
	service *recon.Service
	logger  *slog.Logger
}

// NewHandler constructs the reconciliation HTTP handler.
func NewHandler(service *recon.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type createMatchRequest struct {
	LeftIDs  []int64 `json:"left_ids" validate:"max=500,dive,gt=0"`
	RightIDs []int64 `json:"right_ids" validate:"max=500,dive,gt=0"`
	Comment  string  `json:"comment" validate:"max=1000"`
}

func (h *Handler) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	group, err := h.service.CreateMatch(r.Context(), recon.CreateMatchInput{
		LeftIDs:  req.LeftIDs,
		RightIDs: req.RightIDs,
		Comment:  req.Comment,
	}, shared.ActorFromContext(r.Context()))
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toGroupResponse(group))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	groupID, ok := groupIDParam(w, r)
	if !ok {
		return
	}
	group, err := h.service.ApproveMatch(r.Context(), groupID, shared.ActorFromContext(r.Context()))
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGroupResponse(group))
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	groupID, ok := groupIDParam(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	group, err := h.service.RejectMatch(r.Context(), groupID, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGroupResponse(group))
}

func (h *Handler) handleUnmatch(w http.ResponseWriter, r *http.Request) {
	groupID, ok := groupIDParam(w, r)
	if !ok {
		return
	}
	if err := h.service.Unmatch(r.Context(), groupID, shared.ActorFromContext(r.Context())); err != nil {
		RespondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchRequest struct {
	GroupIDs []string `json:"group_ids" validate:"required,min=1,max=100,dive,uuid"`
}

func (h *Handler) handleBatchUnmatch(w http.ResponseWriter, r *http.Request) {
	h.handleBatch(w, r, h.service.BatchUnmatch)
}

func (h *Handler) handleBatchApprove(w http.ResponseWriter, r *http.Request) {
	h.handleBatch(w, r, h.service.BatchApprove)
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request, apply func(context.Context, []uuid.UUID, shared.Actor) (recon.BatchResult, error)) {
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ids := make([]uuid.UUID, 0, len(req.GroupIDs))
	for _, raw := range req.GroupIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid group id "+raw)
			return
		}
		ids = append(ids, id)
	}
	result, err := apply(r.Context(), ids, shared.ActorFromContext(r.Context()))
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type importRecordRequest struct {
	Date        string `json:"date" validate:"required"`
	Description string `json:"description" validate:"max=500"`
	Amount      string `json:"amount" validate:"required"`
	Side        string `json:"side" validate:"required,oneof=LEFT RIGHT"`
	Category    string `json:"category" validate:"required,oneof=INT_CR INT_DR EXT_CR EXT_DR"`
	ContentHash string `json:"content_hash" validate:"required,max=128"`
}

type importRequest struct {
	Records []importRecordRequest `json:"records" validate:"required,min=1,max=1000,dive"`
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	records := make([]ledger.ImportRecord, 0, len(req.Records))
	for _, raw := range req.Records {
		date, err := time.Parse(dateLayout, raw.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid date "+raw.Date)
			return
		}
		amount, err := decimal.NewFromString(raw.Amount)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid amount "+raw.Amount)
			return
		}
		records = append(records, ledger.ImportRecord{
			Date:        date,
			Description: raw.Description,
			Amount:      amount,
			Side:        ledger.Side(raw.Side),
			Category:    ledger.Category(raw.Category),
			ContentHash: raw.ContentHash,
		})
	}
	result, err := h.service.ImportTransactions(r.Context(), records, shared.ActorFromContext(r.Context()))
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ledger.ListFilter{
		Status: ledger.Status(query.Get("status")),
		Side:   ledger.Side(query.Get("side")),
		Limit:  intQuery(query.Get("limit")),
		Offset: intQuery(query.Get("offset")),
	}
	if raw := query.Get("from"); raw != "" {
		if date, err := time.Parse(dateLayout, raw); err == nil {
			filter.DateFrom = date
		}
	}
	if raw := query.Get("to"); raw != "" {
		if date, err := time.Parse(dateLayout, raw); err == nil {
			filter.DateTo = date
		}
	}
	txns, err := h.service.Transactions(r.Context(), filter)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionResponses(txns))
}

type disputeRequest struct {
	Disputed bool   `json:"disputed"`
	Reason   string `json:"reason" validate:"max=1000"`
}

func (h *Handler) handleDispute(w http.ResponseWriter, r *http.Request) {
	id := int64Param(r, "id")
	if id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transaction id")
		return
	}
	var req disputeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.service.SetDispute(r.Context(), id, req.Disputed, shared.ActorFromContext(r.Context()), req.Reason); err != nil {
		RespondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := groupIDParam(w, r)
	if !ok {
		return
	}
	group, err := h.service.Group(r.Context(), groupID)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGroupResponse(group))
}

func (h *Handler) handleListGroups(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	groups, err := h.service.Groups(r.Context(),
		match.GroupStatus(query.Get("status")),
		intQuery(query.Get("limit")),
		intQuery(query.Get("offset")),
	)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	out := make([]groupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, toGroupResponse(g))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetPeriodLock(w http.ResponseWriter, r *http.Request) {
	lock, err := h.service.PeriodLock(r.Context())
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLockResponse(lock))
}

type periodLockRequest struct {
	Through string `json:"through" validate:"required"`
}

func (h *Handler) handleSetPeriodLock(w http.ResponseWriter, r *http.Request) {
	var req periodLockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	through, err := time.Parse(dateLayout, req.Through)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid date "+req.Through)
		return
	}
	lock, err := h.service.AdvancePeriodLock(r.Context(), through, shared.ActorFromContext(r.Context()))
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLockResponse(lock))
}

// RespondServiceError maps domain errors onto HTTP problem responses
// before falling back to the shared responder. Handlers outside this
// package reuse it so the same error maps to the same status everywhere.
func RespondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, match.ErrEmptySelection),
		errors.Is(err, match.ErrInvalidSelection),
		errors.Is(err, ledger.ErrInvalidRecord),
		errors.Is(err, audit.ErrInvalidEntry):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, match.ErrGroupNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, recon.ErrPermissionDenied), errors.Is(err, approval.ErrPermissionDenied):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, match.ErrPeriodLocked),
		errors.Is(err, match.ErrNotMatchable),
		errors.Is(err, approval.ErrSeparationOfDuties),
		errors.Is(err, approval.ErrNotPending),
		errors.Is(err, periods.ErrBoundaryRegression):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Business Rule Violation", err.Error())
	case errors.Is(err, approval.ErrVersionConflict), errors.Is(err, match.ErrClaimConflict):
		httpx.Problem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	case errors.Is(err, recon.ErrWritesHalted):
		httpx.Problem(w, http.StatusServiceUnavailable, "Writes Halted", err.Error())
	case errors.Is(err, recon.ErrPersistence):
		httpx.Problem(w, http.StatusServiceUnavailable, "Storage Unavailable", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

func groupIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid group id")
		return uuid.Nil, false
	}
	return id, true
}
