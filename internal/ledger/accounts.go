package ledger

import (
	"context"
	"fmt"

	"github.com/dvloznov/p2ptransfers/internal/domain"
)

// OpenAccount creates an account and, when initialDeposit is positive, seeds
// it with a deposit. The two steps are separate operations: if the deposit
// fails the account still exists and is returned together with the error.
func (e *Engine) OpenAccount(ctx context.Context, ownerID, name string, initialDeposit int64) (*domain.Account, *domain.Transaction, error) {
	if initialDeposit < 0 {
		return nil, nil, fmt.Errorf("OpenAccount: %w: initial deposit must not be negative", domain.ErrInvalidTransfer)
	}

	account, err := e.accounts.CreateAccount(ctx, ownerID, name)
	if err != nil {
		return nil, nil, e.fail("OpenAccount", err)
	}
	if initialDeposit == 0 {
		return account, nil, nil
	}

	deposit, err := e.CreateInitialDeposit(ctx, account.ID, initialDeposit)
	if err != nil {
		e.log.Warn().Err(err).Str("account_id", account.ID).Msg("Account opened without initial deposit")
		return account, nil, err
	}
	return account, deposit, nil
}

// AccountsWithBalance lists the owner's accounts with their derived balances.
func (e *Engine) AccountsWithBalance(ctx context.Context, ownerID string, activeOnly bool) ([]domain.AccountWithBalance, error) {
	const op = "AccountsWithBalance"

	list := e.accounts.ListByOwner
	if activeOnly {
		list = e.accounts.ListActiveByOwner
	}

	accounts, err := list(ctx, ownerID)
	if err != nil {
		return nil, e.fail(op, err)
	}

	result := make([]domain.AccountWithBalance, 0, len(accounts))
	for _, a := range accounts {
		balance, err := e.balance(ctx, op, a.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, domain.AccountWithBalance{Account: *a, Balance: balance})
	}
	return result, nil
}
