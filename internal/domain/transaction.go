package domain

import (
	"fmt"
	"time"
)

// TransactionType distinguishes peer transfers from account seeding.
type TransactionType string

const (
	// TransactionTypeTransfer moves funds between two accounts.
	TransactionTypeTransfer TransactionType = "TRANSFER"
	// TransactionTypeInitialDeposit seeds an account; it has no source.
	TransactionTypeInitialDeposit TransactionType = "INITIAL_DEPOSIT"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

// transitions lists every allowed status change. Terminal states have no entry.
var transitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending: {
		TransactionStatusCompleted,
		TransactionStatusCancelled,
		TransactionStatusFailed,
	},
}

// ParseTransactionStatus converts a stored or user-supplied value into a status.
func ParseTransactionStatus(s string) (TransactionStatus, error) {
	switch st := TransactionStatus(s); st {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusCancelled, TransactionStatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown transaction status %q", s)
}

// IsTerminal reports whether no transition leaves s.
func (s TransactionStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether moving from s to next is a listed transition.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transaction is one immutable ledger row. Only Status and UpdatedAt change
// after creation.
type Transaction struct {
	ID                 string            `json:"id"`
	SourceAccountID    *string           `json:"source_account_id"` // nil only for INITIAL_DEPOSIT
	RecipientAccountID string            `json:"recipient_account_id"`
	Amount             int64             `json:"amount"` // minor currency units
	Type               TransactionType   `json:"type"`
	Status             TransactionStatus `json:"status"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Source returns the source account id, or "" for deposits.
func (t *Transaction) Source() string {
	if t.SourceAccountID == nil {
		return ""
	}
	return *t.SourceAccountID
}

// IsSource reports whether accountID is the debited side. Deposits have no
// source and never match, not even "".
func (t *Transaction) IsSource(accountID string) bool {
	return t.SourceAccountID != nil && *t.SourceAccountID == accountID
}

// Touches reports whether the transaction moves funds into or out of accountID.
func (t *Transaction) Touches(accountID string) bool {
	return t.RecipientAccountID == accountID || t.IsSource(accountID)
}

// SignedAmount is the effect of a COMPLETED transaction on accountID's balance.
// Non-completed rows contribute nothing.
func (t *Transaction) SignedAmount(accountID string) int64 {
	if t.Status != TransactionStatusCompleted {
		return 0
	}
	var delta int64
	if t.RecipientAccountID == accountID {
		delta += t.Amount
	}
	if t.IsSource(accountID) {
		delta -= t.Amount
	}
	return delta
}

// TransactionFilter narrows history and status queries.
type TransactionFilter struct {
	// AccountID matches either side of the transaction.
	AccountID string

	// Status filters by lifecycle state.
	Status TransactionStatus

	// CreatedFrom is inclusive; zero means unbounded.
	CreatedFrom time.Time

	// CreatedBefore is exclusive; zero means unbounded.
	CreatedBefore time.Time

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
