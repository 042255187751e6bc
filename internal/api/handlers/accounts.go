package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/p2ptransfers/internal/api/middleware"
	"github.com/dvloznov/p2ptransfers/internal/domain"
	"github.com/dvloznov/p2ptransfers/internal/jobs"
)

// AccountRegistry is the registry surface used by the HTTP layer.
type AccountRegistry interface {
	FindByNumberAndOwner(ctx context.Context, number, ownerID string) (*domain.Account, error)
	Close(ctx context.Context, ownerID, number string) (*domain.Account, error)
	ResolveFullDisplayName(ctx context.Context, number string) (string, error)
}

// AccountLedger is the ledger surface used by account endpoints.
type AccountLedger interface {
	OpenAccount(ctx context.Context, ownerID, name string, initialDeposit int64) (*domain.Account, *domain.Transaction, error)
	AccountsWithBalance(ctx context.Context, ownerID string, activeOnly bool) ([]domain.AccountWithBalance, error)
	GetBalance(ctx context.Context, accountID string) (int64, error)
	History(ctx context.Context, accountID string, filter domain.TransactionFilter) ([]*domain.Transaction, error)
}

// AccountsHandler handles account-related endpoints.
type AccountsHandler struct {
	registry  AccountRegistry
	ledger    AccountLedger
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewAccountsHandler creates a new accounts handler. A nil publisher
// disables statement exports.
func NewAccountsHandler(registry AccountRegistry, ledger AccountLedger, publisher jobs.Publisher, log zerolog.Logger) *AccountsHandler {
	return &AccountsHandler{
		registry:  registry,
		ledger:    ledger,
		publisher: publisher,
		log:       log,
	}
}

type createAccountRequest struct {
	Name           string `json:"name" validate:"required,max=40"`
	InitialDeposit int64  `json:"initial_deposit" validate:"gte=0"`
}

// CreateAccount handles POST /api/accounts
func (h *AccountsHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	owner := middleware.OwnerFrom(r.Context())
	account, deposit, err := h.ledger.OpenAccount(r.Context(), owner, req.Name, req.InitialDeposit)
	if err != nil && account == nil {
		middleware.WriteDomainError(w, h.log, err)
		return
	}

	body := map[string]interface{}{
		"account": account,
		"deposit": deposit,
	}
	if err != nil {
		// the account exists; only the deposit failed
		body["deposit_error"] = err.Error()
		body["deposit_error_kind"] = domain.KindOf(err)
	}

	h.log.Info().
		Str("owner_id", owner).
		Str("account_number", account.AccountNumber).
		Msg("Account opened")

	middleware.WriteJSON(w, http.StatusCreated, body)
}

// ListAccounts handles GET /api/accounts
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, false)
}

// ListActiveAccounts handles GET /api/accounts/active
func (h *AccountsHandler) ListActiveAccounts(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, true)
}

func (h *AccountsHandler) list(w http.ResponseWriter, r *http.Request, activeOnly bool) {
	accounts, err := h.ledger.AccountsWithBalance(r.Context(), middleware.OwnerFrom(r.Context()), activeOnly)
	if err != nil {
		middleware.WriteDomainError(w, h.log, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// GetAccount handles GET /api/accounts/number/{number}
func (h *AccountsHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	account, err := h.registry.FindByNumberAndOwner(ctx, r.PathValue("number"), middleware.OwnerFrom(ctx))
	if err != nil {
		middleware.WriteDomainError(w, h.log, err)
		return
	}

	balance, err := h.ledger.GetBalance(ctx, account.ID)
	if err != nil {
		middleware.WriteDomainError(w, h.log, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, domain.AccountWithBalance{Account: *account, Balance: balance})
}

// CloseAccount handles PATCH /api/accounts/close/{number}
func (h *AccountsHandler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	account, err := h.registry.Close(ctx, middleware.OwnerFrom(ctx), r.PathValue("number"))
	if err != nil {
		middleware.WriteDomainError(w, h.log, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, account)
}

// FullName handles GET /api/accounts/number/{number}/fullname
func (h *AccountsHandler) FullName(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")

	name, err := h.registry.ResolveFullDisplayName(r.Context(), number)
	if err != nil {
		middleware.WriteDomainError(w, h.log, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"account_number": number,
		"full_name":      name,
	})
}

// ListTransactions handles GET /api/accounts/number/{number}/transactions
func (h *AccountsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseTransactionFilter(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := h.registry.FindByNumberAndOwner(ctx, r.PathValue("number"), middleware.OwnerFrom(ctx))
	if err != nil {
		middleware.WriteDomainError(w, h.log, err)
		return
	}

	txs, err := h.ledger.History(ctx, account.ID, filter)
	if err != nil {
		middleware.WriteDomainError(w, h.log, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}

// ExportStatement handles POST /api/accounts/number/{number}/statements
func (h *AccountsHandler) ExportStatement(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Statement export is not configured")
		return
	}

	ctx := r.Context()
	owner := middleware.OwnerFrom(ctx)
	number := r.PathValue("number")

	if _, err := h.registry.FindByNumberAndOwner(ctx, number, owner); err != nil {
		middleware.WriteDomainError(w, h.log, err)
		return
	}

	job := &jobs.ExportStatementJob{OwnerID: owner, AccountNumber: number}
	if err := h.publisher.PublishExportStatement(ctx, job); err != nil {
		h.log.Error().Err(err).Str("account_number", number).Msg("Failed to enqueue statement export")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue statement export")
		return
	}

	h.log.Info().
		Str("job_id", job.JobID).
		Str("account_number", number).
		Msg("Statement export enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}
