package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmercadal/pairvault/internal/domain"
)

// FeeService defines the methods the fee handler requires from the service
// layer.
type FeeService interface {
	Status(ctx context.Context) (domain.FeeLedgerStatus, error)
	RequestWithdrawal(ctx context.Context, requester domain.Identity, destination string, amount int64) (domain.Transaction, error)
}

// FeeHandler serves fee custody HTTP endpoints.
type FeeHandler struct {
	fees   FeeService
	logger *slog.Logger
}

// NewFeeHandler creates a FeeHandler with the given service and logger.
func NewFeeHandler(fees FeeService, logger *slog.Logger) *FeeHandler {
	return &FeeHandler{
		fees:   fees,
		logger: logger,
	}
}

// GetStatus reports the fee custody state.
// GET /api/fees
func (h *FeeHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.fees.Status(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: fee status failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get fee status")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"custody_id":       st.CustodyID,
		"balance":          st.Balance,
		"total_credited":   st.TotalCredited,
		"period_withdrawn": st.PeriodWithdrawn,
		"period_start":     st.PeriodStart,
	})
}

type withdrawalRequest struct {
	RequestedBy string `json:"requested_by"`
	Destination string `json:"destination"`
	Amount      int64  `json:"amount"`
}

// RequestWithdrawal submits a fee withdrawal for approval.
// POST /api/fees/withdrawals
func (h *FeeHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.RequestedBy == "" || req.Destination == "" {
		writeError(w, http.StatusBadRequest, "requested_by and destination are required")
		return
	}

	tx, err := h.fees.RequestWithdrawal(r.Context(), domain.Identity(req.RequestedBy), req.Destination, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnauthorized):
			writeError(w, http.StatusForbidden, "not a custody owner")
		case errors.Is(err, domain.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "amount must be positive")
		case errors.Is(err, domain.ErrInsufficientLedgerBalance):
			writeError(w, http.StatusUnprocessableEntity, "insufficient fee balance")
		case errors.Is(err, domain.ErrExceedsLimit):
			writeError(w, http.StatusUnprocessableEntity, "withdrawal limit exceeded")
		default:
			h.logger.ErrorContext(r.Context(), "handler: request withdrawal failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to request withdrawal")
		}
		return
	}

	writeJSON(w, http.StatusCreated, transactionJSON(tx))
}
