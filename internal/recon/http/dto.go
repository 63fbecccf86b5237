package reconhttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ledgermatch/ledgermatch/internal/ledger"
	"github.com/ledgermatch/ledgermatch/internal/match"
	"github.com/ledgermatch/ledgermatch/internal/periods"
)

type groupResponse struct {
	ID          uuid.UUID  `json:"id"`
	LeftIDs     []int64    `json:"left_ids"`
	RightIDs    []int64    `json:"right_ids"`
	TotalLeft   string     `json:"total_left"`
	TotalRight  string     `json:"total_right"`
	Difference  string     `json:"difference"`
	Adjustment  *string    `json:"adjustment,omitempty"`
	Comment     string     `json:"comment,omitempty"`
	Status      string     `json:"status"`
	CreatedBy   int64      `json:"created_by"`
	ApprovedBy  *int64     `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toGroupResponse(g match.Group) groupResponse {
	resp := groupResponse{
		ID:         g.ID,
		LeftIDs:    g.LeftIDs,
		RightIDs:   g.RightIDs,
		TotalLeft:  g.TotalLeft.String(),
		TotalRight: g.TotalRight.String(),
		Difference: g.Difference.String(),
		Comment:    g.Comment,
		Status:     string(g.Status),
		CreatedBy:  g.CreatedBy,
		ApprovedBy: g.ApprovedBy,
		ApprovedAt: g.ApprovedAt,
		Version:    g.Version,
		CreatedAt:  g.CreatedAt,
		UpdatedAt:  g.UpdatedAt,
	}
	if g.Adjustment != nil {
		s := g.Adjustment.String()
		resp.Adjustment = &s
	}
	return resp
}

type transactionResponse struct {
	ID          int64      `json:"id"`
	Date        string     `json:"date"`
	Description string     `json:"description"`
	Amount      string     `json:"amount"`
	Side        string     `json:"side"`
	Category    string     `json:"category"`
	Status      string     `json:"status"`
	MatchID     *uuid.UUID `json:"match_id,omitempty"`
	ImportedBy  int64      `json:"imported_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toTransactionResponses(txns []ledger.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, transactionResponse{
			ID:          t.ID,
			Date:        t.Date.Format(dateLayout),
			Description: t.Description,
			Amount:      t.Amount.String(),
			Side:        string(t.Side),
			Category:    string(t.Category),
			Status:      string(t.Status),
			MatchID:     t.MatchID,
			ImportedBy:  t.ImportedBy,
			CreatedAt:   t.CreatedAt,
			UpdatedAt:   t.UpdatedAt,
		})
	}
	return out
}

type lockResponse struct {
	Through   string    `json:"through,omitempty"`
	SetBy     int64     `json:"set_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

func toLockResponse(l periods.Lock) lockResponse {
	resp := lockResponse{SetBy: l.SetBy, UpdatedAt: l.UpdatedAt}
	if !l.Through.IsZero() {
		resp.Through = l.Through.Format(dateLayout)
	}
	return resp
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

func int64Param(r *http.Request, name string) int64 {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
