// Package ledger admits, confirms and cancels transactions and derives
// account balances from the completed ones.
//
// Balances are never stored. A transfer is checked against the source
// balance when created, but that check is advisory: funds are not reserved.
// The authoritative check runs again at confirmation, atomically with the
// status write.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/p2ptransfers/internal/domain"
	"github.com/dvloznov/p2ptransfers/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Accounts is the part of the account registry the engine depends on.
type Accounts interface {
	CreateAccount(ctx context.Context, ownerID, name string) (*domain.Account, error)
	FindByNumber(ctx context.Context, number string) (*domain.Account, error)
	FindByID(ctx context.Context, id string) (*domain.Account, error)
	FindByIDAndOwner(ctx context.Context, id, ownerID string) (*domain.Account, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Account, error)
	ListActiveByOwner(ctx context.Context, ownerID string) ([]*domain.Account, error)
}

// Engine is the only writer of transaction status.
// It holds no cross-request state; the store is the single shared resource.
type Engine struct {
	ledger   store.LedgerStore
	accounts Accounts
	log      zerolog.Logger
	now      func() time.Time
}

// NewEngine creates a ledger engine.
func NewEngine(ledger store.LedgerStore, accounts Accounts, log zerolog.Logger) *Engine {
	return &Engine{
		ledger:   ledger,
		accounts: accounts,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateTransfer admits a PENDING transfer between two accounts.
func (e *Engine) CreateTransfer(ctx context.Context, sourceNumber, recipientNumber string, amount int64) (*domain.Transaction, error) {
	return e.createTransfer(ctx, "", sourceNumber, recipientNumber, amount)
}

// CreateTransferForOwner is CreateTransfer with the source account scoped to ownerID.
func (e *Engine) CreateTransferForOwner(ctx context.Context, ownerID, sourceNumber, recipientNumber string, amount int64) (*domain.Transaction, error) {
	return e.createTransfer(ctx, ownerID, sourceNumber, recipientNumber, amount)
}

func (e *Engine) createTransfer(ctx context.Context, ownerID, sourceNumber, recipientNumber string, amount int64) (*domain.Transaction, error) {
	const op = "CreateTransfer"

	if sourceNumber == recipientNumber {
		return nil, fmt.Errorf("%s: %w: source and recipient are the same account", op, domain.ErrInvalidTransfer)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%s: %w: amount must be positive", op, domain.ErrInvalidTransfer)
	}

	source, err := e.accounts.FindByNumber(ctx, sourceNumber)
	if err != nil {
		return nil, e.fail(op, fmt.Errorf("source: %w", err))
	}
	if ownerID != "" && source.OwnerID != ownerID {
		return nil, fmt.Errorf("%s: source: %w", op, domain.ErrAccountNotFound)
	}
	if !source.IsActive() {
		return nil, fmt.Errorf("%s: source: %w", op, domain.ErrAccountInactive)
	}

	recipient, err := e.accounts.FindByNumber(ctx, recipientNumber)
	if err != nil {
		return nil, e.fail(op, fmt.Errorf("recipient: %w", err))
	}
	if !recipient.IsActive() {
		return nil, fmt.Errorf("%s: recipient: %w", op, domain.ErrAccountInactive)
	}

	// Advisory only: concurrent transfers may all pass this check.
	totals, err := e.ledger.SumCompleted(ctx, source.ID)
	if err != nil {
		return nil, e.fail(op, err)
	}
	if totals.Balance() < amount {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrInsufficientFunds)
	}

	now := e.now()
	sourceID := source.ID
	tx := &domain.Transaction{
		ID:                 uuid.New().String(),
		SourceAccountID:    &sourceID,
		RecipientAccountID: recipient.ID,
		Amount:             amount,
		Type:               domain.TransactionTypeTransfer,
		Status:             domain.TransactionStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.ledger.InsertTransaction(ctx, tx); err != nil {
		return nil, e.fail(op, err)
	}

	e.log.Info().
		Str("transaction_id", tx.ID).
		Str("source", sourceNumber).
		Str("recipient", recipientNumber).
		Int64("amount", amount).
		Msg("Transfer created")
	return tx, nil
}

// ConfirmTransfer completes a PENDING transfer if the source still covers it.
// An uncovered transfer is moved to FAILED and ErrInsufficientFunds is returned.
func (e *Engine) ConfirmTransfer(ctx context.Context, id string) (*domain.Transaction, error) {
	const op = "ConfirmTransfer"

	decide := func(ctx context.Context, tx *domain.Transaction, balance store.BalanceFunc) (domain.TransactionStatus, error) {
		if tx.SourceAccountID == nil {
			return domain.TransactionStatusCompleted, nil
		}
		available, err := balance(ctx, *tx.SourceAccountID)
		if err != nil {
			return "", err
		}
		if available < tx.Amount {
			return domain.TransactionStatusFailed, nil
		}
		return domain.TransactionStatusCompleted, nil
	}

	tx, err := e.ledger.TransitionPending(ctx, id, e.now(), decide)
	if err != nil {
		return nil, e.fail(op, err)
	}

	if tx.Status == domain.TransactionStatusFailed {
		e.log.Info().
			Str("transaction_id", id).
			Int64("amount", tx.Amount).
			Msg("Transfer failed at confirmation: insufficient funds")
		return nil, fmt.Errorf("%s: %w", op, domain.ErrInsufficientFunds)
	}

	e.log.Info().Str("transaction_id", id).Msg("Transfer confirmed")
	return tx, nil
}

// CancelTransfer cancels a PENDING transfer whose source belongs to ownerID.
func (e *Engine) CancelTransfer(ctx context.Context, id, ownerID string) (*domain.Transaction, error) {
	const op = "CancelTransfer"

	current, err := e.ledger.GetTransactionBySourceOwner(ctx, id, ownerID)
	if err != nil {
		return nil, e.fail(op, err)
	}
	if current.Status != domain.TransactionStatusPending {
		return nil, fmt.Errorf("%s: %w: status is %s", op, domain.ErrInvalidState, current.Status)
	}

	tx, err := e.ledger.TransitionPending(ctx, id, e.now(), func(context.Context, *domain.Transaction, store.BalanceFunc) (domain.TransactionStatus, error) {
		return domain.TransactionStatusCancelled, nil
	})
	if err != nil {
		return nil, e.fail(op, err)
	}

	e.log.Info().Str("transaction_id", id).Msg("Transfer cancelled")
	return tx, nil
}

// CreateInitialDeposit records a COMPLETED deposit with no source.
// Deposits skip PENDING and cannot be reversed through the engine.
func (e *Engine) CreateInitialDeposit(ctx context.Context, accountID string, amount int64) (*domain.Transaction, error) {
	const op = "CreateInitialDeposit"

	if amount <= 0 {
		return nil, fmt.Errorf("%s: %w: amount must be positive", op, domain.ErrInvalidTransfer)
	}

	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, e.fail(op, err)
	}
	if !account.IsActive() {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrAccountInactive)
	}

	now := e.now()
	tx := &domain.Transaction{
		ID:                 uuid.New().String(),
		RecipientAccountID: account.ID,
		Amount:             amount,
		Type:               domain.TransactionTypeInitialDeposit,
		Status:             domain.TransactionStatusCompleted,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.ledger.InsertTransaction(ctx, tx); err != nil {
		return nil, e.fail(op, err)
	}

	e.log.Info().
		Str("transaction_id", tx.ID).
		Str("account_id", accountID).
		Int64("amount", amount).
		Msg("Initial deposit recorded")
	return tx, nil
}

// GetBalance derives the balance of accountID from COMPLETED transactions.
// A negative result is returned as is; it indicates a defect elsewhere.
func (e *Engine) GetBalance(ctx context.Context, accountID string) (int64, error) {
	if _, err := e.accounts.FindByID(ctx, accountID); err != nil {
		return 0, e.fail("GetBalance", err)
	}
	return e.balance(ctx, "GetBalance", accountID)
}

// GetBalanceForOwner is GetBalance scoped to ownerID.
func (e *Engine) GetBalanceForOwner(ctx context.Context, accountID, ownerID string) (int64, error) {
	if _, err := e.accounts.FindByIDAndOwner(ctx, accountID, ownerID); err != nil {
		return 0, e.fail("GetBalanceForOwner", err)
	}
	return e.balance(ctx, "GetBalanceForOwner", accountID)
}

func (e *Engine) balance(ctx context.Context, op, accountID string) (int64, error) {
	totals, err := e.ledger.SumCompleted(ctx, accountID)
	if err != nil {
		return 0, e.fail(op, err)
	}
	if b := totals.Balance(); b < 0 {
		e.log.Warn().Str("account_id", accountID).Int64("balance", b).Msg("Negative derived balance")
	}
	return totals.Balance(), nil
}

// GetTransaction returns a transaction by id.
func (e *Engine) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := e.ledger.GetTransaction(ctx, id)
	if err != nil {
		return nil, e.fail("GetTransaction", err)
	}
	return tx, nil
}

// History lists transactions touching accountID, oldest first.
func (e *Engine) History(ctx context.Context, accountID string, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	filter.AccountID = accountID
	list, err := e.ledger.ListTransactions(ctx, filter)
	if err != nil {
		return nil, e.fail("History", err)
	}
	return list, nil
}

// ListByStatus lists transactions in the given status, oldest first.
func (e *Engine) ListByStatus(ctx context.Context, status domain.TransactionStatus, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	filter.Status = status
	list, err := e.ledger.ListTransactions(ctx, filter)
	if err != nil {
		return nil, e.fail("ListByStatus", err)
	}
	return list, nil
}

// FailStale moves every PENDING transaction created before cutoff to FAILED.
// Running it again with nothing to fail is a no-op.
func (e *Engine) FailStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := e.ledger.FailPendingBefore(ctx, cutoff, e.now())
	if err != nil {
		return nil, e.fail("FailStale", err)
	}
	return ids, nil
}

// fail normalizes err so no raw store error reaches the caller, and logs
// infrastructure failures.
func (e *Engine) fail(op string, err error) error {
	err = fmt.Errorf("%s: %w", op, domain.Normalize(err))
	switch domain.KindOf(err) {
	case domain.KindStoreUnavailable, domain.KindStoreTimeout:
		e.log.Error().Err(err).Str("op", op).Msg("Ledger store failure")
	}
	return err
}
