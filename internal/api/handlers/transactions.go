package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/p2ptransfers/internal/api/middleware"
	"github.com/dvloznov/p2ptransfers/internal/domain"
)

// TransferLedger is the ledger surface used by transaction endpoints.
type TransferLedger interface {
	CreateTransferForOwner(ctx context.Context, ownerID, sourceNumber, recipientNumber string, amount int64) (*domain.Transaction, error)
	ConfirmTransfer(ctx context.Context, id string) (*domain.Transaction, error)
	CancelTransfer(ctx context.Context, id, ownerID string) (*domain.Transaction, error)
	GetBalanceForOwner(ctx context.Context, accountID, ownerID string) (int64, error)
}

// TransactionsHandler handles transfer endpoints.
type TransactionsHandler struct {
	ledger TransferLedger
	log    zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(ledger TransferLedger, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		ledger: ledger,
		log:    log,
	}
}

type createTransferRequest struct {
	SourceAccountNumber    string `json:"source_account_number" validate:"required,account_number"`
	RecipientAccountNumber string `json:"recipient_account_number" validate:"required,account_number"`
	Amount                 int64  `json:"amount" validate:"gt=0"`
}

// CreateTransfer handles POST /api/transactions
func (h *TransactionsHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	tx, err := h.ledger.CreateTransferForOwner(ctx, middleware.OwnerFrom(ctx), req.SourceAccountNumber, req.RecipientAccountNumber, req.Amount)
	if err != nil {
		middleware.WriteDomainError(w, h.log, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, tx)
}

// ConfirmTransfer handles PATCH /api/transactions/{id}/confirm
func (h *TransactionsHandler) ConfirmTransfer(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledger.ConfirmTransfer(r.Context(), r.PathValue("id"))
	if err != nil {
		middleware.WriteDomainError(w, h.log, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tx)
}

// CancelTransfer handles PATCH /api/transactions/{id}/cancel
func (h *TransactionsHandler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tx, err := h.ledger.CancelTransfer(ctx, r.PathValue("id"), middleware.OwnerFrom(ctx))
	if err != nil {
		middleware.WriteDomainError(w, h.log, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tx)
}

// GetBalance handles GET /api/transactions/balance/{accountId}
func (h *TransactionsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := r.PathValue("accountId")

	balance, err := h.ledger.GetBalanceForOwner(ctx, accountID, middleware.OwnerFrom(ctx))
	if err != nil {
		middleware.WriteDomainError(w, h.log, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"balance":    balance,
	})
}

// parseTransactionFilter reads status, from, to, limit and offset.
func parseTransactionFilter(r *http.Request) (domain.TransactionFilter, error) {
	query := r.URL.Query()
	var filter domain.TransactionFilter

	if s := query.Get("status"); s != "" {
		status, err := domain.ParseTransactionStatus(s)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}

	for name, dst := range map[string]*time.Time{"from": &filter.CreatedFrom, "to": &filter.CreatedBefore} {
		if v := query.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return filter, fmt.Errorf("invalid %s, expected RFC3339", name)
			}
			*dst = t
		}
	}

	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := query.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return filter, fmt.Errorf("invalid %s", name)
			}
			*dst = n
		}
	}

	return filter, nil
}
