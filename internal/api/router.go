// Package api assembles the HTTP surface of the ledger.
package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/p2ptransfers/internal/api/handlers"
	"github.com/dvloznov/p2ptransfers/internal/api/middleware"
)

// Handlers groups the endpoint handlers served by NewRouter.
type Handlers struct {
	Accounts     *handlers.AccountsHandler
	Transactions *handlers.TransactionsHandler
	Jobs         *handlers.JobsHandler
}

// NewRouter registers every route and wraps the mux in the middleware chain.
// requestTimeout bounds each request's context; zero disables it.
func NewRouter(h Handlers, requestTimeout time.Duration, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Accounts endpoints
	mux.HandleFunc("POST /api/accounts", h.Accounts.CreateAccount)
	mux.HandleFunc("GET /api/accounts", h.Accounts.ListAccounts)
	mux.HandleFunc("GET /api/accounts/active", h.Accounts.ListActiveAccounts)
	mux.HandleFunc("GET /api/accounts/number/{number}", h.Accounts.GetAccount)
	mux.HandleFunc("GET /api/accounts/number/{number}/fullname", h.Accounts.FullName)
	mux.HandleFunc("GET /api/accounts/number/{number}/transactions", h.Accounts.ListTransactions)
	mux.HandleFunc("POST /api/accounts/number/{number}/statements", h.Accounts.ExportStatement)
	mux.HandleFunc("PATCH /api/accounts/close/{number}", h.Accounts.CloseAccount)

	// Transactions endpoints
	mux.HandleFunc("POST /api/transactions", h.Transactions.CreateTransfer)
	mux.HandleFunc("PATCH /api/transactions/{id}/confirm", h.Transactions.ConfirmTransfer)
	mux.HandleFunc("PATCH /api/transactions/{id}/cancel", h.Transactions.CancelTransfer)
	mux.HandleFunc("GET /api/transactions/balance/{accountId}", h.Transactions.GetBalance)

	// Jobs endpoints
	mux.HandleFunc("GET /api/jobs", h.Jobs.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", h.Jobs.GetJob)

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Owner(
						middleware.Timeout(requestTimeout)(mux),
					),
				),
			),
		),
	)
}
