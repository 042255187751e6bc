// Package store declares the persistence contracts consumed by the account
// registry and the ledger engine. Implementations live in subpackages.
package store

import (
	"context"
	"time"

	"github.com/dvloznov/p2ptransfers/internal/domain"
)

// AccountStore provides keyed storage for account records.
type AccountStore interface {
	// CreateAccount persists a new account. It returns domain.ErrDuplicate
	// when the account number is already taken.
	CreateAccount(ctx context.Context, account *domain.Account) error

	// AccountNumberExists reports whether number is already assigned.
	AccountNumberExists(ctx context.Context, number string) (bool, error)

	// GetAccountByID returns domain.ErrAccountNotFound when no row matches.
	GetAccountByID(ctx context.Context, id string) (*domain.Account, error)

	// GetAccountByNumber returns domain.ErrAccountNotFound when no row matches.
	GetAccountByNumber(ctx context.Context, number string) (*domain.Account, error)

	// ListAccountsByOwner lists an owner's accounts ordered by creation time.
	// An empty status lists every account.
	ListAccountsByOwner(ctx context.Context, ownerID string, status domain.AccountStatus) ([]*domain.Account, error)

	// CloseAccount sets the account owned by ownerID with the given number to
	// CLOSED in a single conditional write. Closing a closed account is a no-op.
	// It returns domain.ErrAccountNotFound when no row matches.
	CloseAccount(ctx context.Context, ownerID, number string, at time.Time) (*domain.Account, error)
}

// PartyDirectory resolves account owners.
type PartyDirectory interface {
	// FindParty returns domain.ErrPartyNotFound when no party matches.
	FindParty(ctx context.Context, id string) (*domain.Party, error)
}

// Totals is the completed flow through an account.
type Totals struct {
	Credited int64
	Debited  int64
}

// Balance is credits minus debits.
func (t Totals) Balance() int64 {
	return t.Credited - t.Debited
}

// BalanceFunc reads a derived balance inside the caller's atomic unit.
type BalanceFunc func(ctx context.Context, accountID string) (int64, error)

// Decider picks the next status for a PENDING transaction. It runs while the
// store holds exclusive access to the transaction and its source account, so
// balances read through balance cannot be changed by a concurrent transition.
// Returning an error aborts the transition without writing.
type Decider func(ctx context.Context, tx *domain.Transaction, balance BalanceFunc) (domain.TransactionStatus, error)

// LedgerStore provides append-friendly storage for transaction records.
type LedgerStore interface {
	// InsertTransaction appends a new transaction.
	InsertTransaction(ctx context.Context, tx *domain.Transaction) error

	// GetTransaction returns domain.ErrTransactionNotFound when no row matches.
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	// GetTransactionBySourceOwner returns the transaction only if its source
	// account belongs to ownerID, otherwise domain.ErrTransactionNotFound.
	GetTransactionBySourceOwner(ctx context.Context, id, ownerID string) (*domain.Transaction, error)

	// ListTransactions returns matching transactions ordered by creation time.
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error)

	// SumCompleted aggregates COMPLETED amounts by the role accountID plays.
	SumCompleted(ctx context.Context, accountID string) (Totals, error)

	// TransitionPending moves a PENDING transaction to the status chosen by
	// decide as one atomic check-and-set. Exactly one concurrent caller can
	// win; the others get domain.ErrInvalidState.
	TransitionPending(ctx context.Context, id string, at time.Time, decide Decider) (*domain.Transaction, error)

	// FailPendingBefore moves every PENDING transaction created before cutoff
	// to FAILED and returns their ids.
	FailPendingBefore(ctx context.Context, cutoff, at time.Time) ([]string, error)
}

// Store is the full persistence surface.
type Store interface {
	AccountStore
	PartyDirectory
	LedgerStore
}
