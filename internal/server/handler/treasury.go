package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmercadal/pairvault/internal/domain"
	"github.com/jmercadal/pairvault/internal/service"
)

// TreasuryService defines the methods that the treasury handler requires from
// the service layer.
type TreasuryService interface {
	Create(ctx context.Context, kind domain.TreasuryKind, owners []domain.Identity, threshold int) (domain.Treasury, error)
	Get(ctx context.Context, id string) (domain.Treasury, error)
	ListByOwner(ctx context.Context, owner domain.Identity, opts domain.ListOpts) ([]domain.Treasury, error)
	Deposit(ctx context.Context, treasuryID string, amount int64) error
	Submit(ctx context.Context, req service.SubmitRequest) (domain.Transaction, error)
	Approve(ctx context.Context, treasuryID, txID string, owner domain.Identity) error
	Revoke(ctx context.Context, treasuryID, txID string, owner domain.Identity) error
	Execute(ctx context.Context, treasuryID, txID string, caller domain.Identity) (domain.Transaction, error)
	GetTransaction(ctx context.Context, treasuryID, txID string) (domain.Transaction, error)
	ListTransactions(ctx context.Context, treasuryID string, opts domain.ListOpts) ([]domain.Transaction, error)
}

// TreasuryHandler serves treasury-related HTTP endpoints.
type TreasuryHandler struct {
	treasuries TreasuryService
	logger     *slog.Logger
}

// NewTreasuryHandler creates a TreasuryHandler with the given service and logger.
func NewTreasuryHandler(treasuries TreasuryService, logger *slog.Logger) *TreasuryHandler {
	return &TreasuryHandler{
		treasuries: treasuries,
		logger:     logger,
	}
}

type createTreasuryRequest struct {
	Kind      string   `json:"kind"`
	Owners    []string `json:"owners"`
	Threshold int      `json:"threshold"`
}

// CreateTreasury provisions a new jointly-owned treasury.
// POST /api/treasuries
func (h *TreasuryHandler) CreateTreasury(w http.ResponseWriter, r *http.Request) {
	var req createTreasuryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	kind := domain.TreasuryKind(req.Kind)
	if kind == "" {
		kind = domain.TreasuryKindMatch
	}

	owners := make([]domain.Identity, len(req.Owners))
	for i, o := range req.Owners {
		owners[i] = domain.Identity(o)
	}

	t, err := h.treasuries.Create(r.Context(), kind, owners, req.Threshold)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create treasury failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, treasuryJSON(t))
}

// GetTreasury returns a single treasury by id.
// GET /api/treasuries/{id}
func (h *TreasuryHandler) GetTreasury(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing treasury id")
		return
	}

	t, err := h.treasuries.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "treasury not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get treasury failed",
			slog.String("treasury_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get treasury")
		return
	}

	writeJSON(w, http.StatusOK, treasuryJSON(t))
}

// ListTreasuries returns treasuries the given owner belongs to.
// GET /api/treasuries?owner=...&limit=50&offset=0
func (h *TreasuryHandler) ListTreasuries(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter required")
		return
	}

	out, err := h.treasuries.ListByOwner(r.Context(), domain.Identity(owner), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list treasuries failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list treasuries")
		return
	}

	treasuries := make([]map[string]any, 0, len(out))
	for _, t := range out {
		treasuries = append(treasuries, treasuryJSON(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"treasuries": treasuries})
}

type depositRequest struct {
	Amount int64 `json:"amount"`
}

// Deposit credits value to a treasury.
// POST /api/treasuries/{id}/deposit
func (h *TreasuryHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.treasuries.Deposit(r.Context(), id, req.Amount); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "treasury not found")
		case errors.Is(err, domain.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "amount must be positive")
		default:
			h.logger.ErrorContext(r.Context(), "handler: deposit failed",
				slog.String("treasury_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to deposit")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "credited",
		"treasury_id": id,
		"amount":      req.Amount,
	})
}

type submitTransactionRequest struct {
	Kind        string          `json:"kind"`
	Destination string          `json:"destination"`
	Amount      int64           `json:"amount"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	SubmittedBy string          `json:"submitted_by"`
}

// SubmitTransaction proposes a new transaction on a treasury.
// POST /api/treasuries/{id}/transactions
func (h *TreasuryHandler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req submitTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SubmittedBy == "" {
		writeError(w, http.StatusBadRequest, "submitted_by is required")
		return
	}

	kind := domain.TransactionKind(req.Kind)
	if kind == "" {
		kind = domain.TransactionKindTransfer
	}

	tx, err := h.treasuries.Submit(r.Context(), service.SubmitRequest{
		TreasuryID:  id,
		Kind:        kind,
		Destination: req.Destination,
		Amount:      req.Amount,
		Payload:     req.Payload,
		SubmittedBy: domain.Identity(req.SubmittedBy),
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "treasury not found")
		case errors.Is(err, domain.ErrNotAnOwner):
			writeError(w, http.StatusForbidden, "submitter is not an owner")
		case errors.Is(err, domain.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "invalid amount or destination")
		default:
			h.logger.ErrorContext(r.Context(), "handler: submit transaction failed",
				slog.String("treasury_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, transactionJSON(tx))
}

// ListTransactions returns a treasury's transactions.
// GET /api/treasuries/{id}/transactions
func (h *TreasuryHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	out, err := h.treasuries.ListTransactions(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list transactions failed",
			slog.String("treasury_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}

	txs := make([]map[string]any, 0, len(out))
	for _, tx := range out {
		txs = append(txs, transactionJSON(tx))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// GetTransaction returns one transaction with its approvals.
// GET /api/treasuries/{id}/transactions/{txid}
func (h *TreasuryHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	txID := pathParam(r, "txid")

	tx, err := h.treasuries.GetTransaction(r.Context(), id, txID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTransaction) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get transaction failed",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get transaction")
		return
	}

	writeJSON(w, http.StatusOK, transactionJSON(tx))
}

type ownerActionRequest struct {
	Owner string `json:"owner"`
}

// ApproveTransaction records an owner's approval.
// POST /api/treasuries/{id}/transactions/{txid}/approve
func (h *TreasuryHandler) ApproveTransaction(w http.ResponseWriter, r *http.Request) {
	h.ownerAction(w, r, "approve", h.treasuries.Approve)
}

// RevokeApproval withdraws an owner's approval.
// POST /api/treasuries/{id}/transactions/{txid}/revoke
func (h *TreasuryHandler) RevokeApproval(w http.ResponseWriter, r *http.Request) {
	h.ownerAction(w, r, "revoke", h.treasuries.Revoke)
}

func (h *TreasuryHandler) ownerAction(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	fn func(ctx context.Context, treasuryID, txID string, owner domain.Identity) error,
) {
	id := pathParam(r, "id")
	txID := pathParam(r, "txid")

	var req ownerActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	if err := fn(r.Context(), id, txID, domain.Identity(req.Owner)); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnknownTransaction):
			writeError(w, http.StatusNotFound, "treasury or transaction not found")
		case errors.Is(err, domain.ErrNotAnOwner):
			writeError(w, http.StatusForbidden, "not an owner")
		case errors.Is(err, domain.ErrAlreadyExecuted):
			writeError(w, http.StatusConflict, "transaction already executed")
		case errors.Is(err, domain.ErrDuplicateApproval):
			writeError(w, http.StatusConflict, "already approved")
		default:
			h.logger.ErrorContext(r.Context(), "handler: "+action+" failed",
				slog.String("tx_id", txID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to "+action)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": action + "d",
		"tx_id":  txID,
	})
}

type executeRequest struct {
	Caller string `json:"caller"`
}

// ExecuteTransaction finalizes an approved transaction.
// POST /api/treasuries/{id}/transactions/{txid}/execute
func (h *TreasuryHandler) ExecuteTransaction(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	txID := pathParam(r, "txid")

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	tx, err := h.treasuries.Execute(r.Context(), id, txID, domain.Identity(req.Caller))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnknownTransaction):
			writeError(w, http.StatusNotFound, "treasury or transaction not found")
		case errors.Is(err, domain.ErrNotAnOwner), errors.Is(err, domain.ErrUnauthorized):
			writeError(w, http.StatusForbidden, "not allowed to execute")
		case errors.Is(err, domain.ErrAlreadyExecuted):
			writeError(w, http.StatusConflict, "transaction already executed")
		case errors.Is(err, domain.ErrThresholdNotMet):
			writeError(w, http.StatusConflict, "approval threshold not met")
		case errors.Is(err, domain.ErrInsufficientBalance),
			errors.Is(err, domain.ErrInsufficientLedgerBalance):
			writeError(w, http.StatusUnprocessableEntity, "insufficient balance")
		case errors.Is(err, domain.ErrExceedsLimit):
			writeError(w, http.StatusUnprocessableEntity, "withdrawal limit exceeded")
		default:
			h.logger.ErrorContext(r.Context(), "handler: execute failed",
				slog.String("tx_id", txID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to execute")
		}
		return
	}

	writeJSON(w, http.StatusOK, transactionJSON(tx))
}

func treasuryJSON(t domain.Treasury) map[string]any {
	owners := make([]string, len(t.Owners))
	for i, o := range t.Owners {
		owners[i] = string(o)
	}
	return map[string]any{
		"id":         t.ID,
		"kind":       string(t.Kind),
		"owners":     owners,
		"threshold":  t.Threshold,
		"balance":    t.Balance,
		"created_at": t.CreatedAt,
		"updated_at": t.UpdatedAt,
	}
}

func transactionJSON(tx domain.Transaction) map[string]any {
	approvals := make([]string, len(tx.Approvals))
	for i, a := range tx.Approvals {
		approvals[i] = string(a)
	}
	out := map[string]any{
		"id":           tx.ID,
		"treasury_id":  tx.TreasuryID,
		"kind":         string(tx.Kind),
		"destination":  tx.Destination,
		"amount":       tx.Amount,
		"submitted_by": string(tx.SubmittedBy),
		"approvals":    approvals,
		"executed":     tx.Executed,
		"created_at":   tx.CreatedAt,
	}
	if len(tx.Payload) > 0 {
		out["payload"] = json.RawMessage(tx.Payload)
	}
	if tx.ExecutedAt != nil {
		out["executed_at"] = *tx.ExecutedAt
	}
	return out
}
