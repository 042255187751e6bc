package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountInactive     = errors.New("account is not active")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidTransfer     = errors.New("invalid transfer")
	ErrInvalidState        = errors.New("transaction is not pending")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrPartyNotFound       = errors.New("party not found")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrStoreTimeout        = errors.New("store timeout")
	ErrDuplicate           = errors.New("duplicate key")
	ErrInvalidAccountName  = errors.New("invalid account name")
)

// Kind is the stable, caller-visible category of a failure.
type Kind string

const (
	KindAccountNotFound     Kind = "AccountNotFound"
	KindAccountInactive     Kind = "AccountInactive"
	KindTransactionNotFound Kind = "TransactionNotFound"
	KindInvalidTransfer     Kind = "InvalidTransfer"
	KindInvalidState        Kind = "InvalidState"
	KindInsufficientFunds   Kind = "InsufficientFunds"
	KindPartyNotFound       Kind = "PartyNotFound"
	KindInvalidAccountName  Kind = "InvalidAccountName"
	KindStoreUnavailable    Kind = "StoreUnavailable"
	KindStoreTimeout        Kind = "StoreTimeout"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrAccountNotFound, KindAccountNotFound},
	{ErrAccountInactive, KindAccountInactive},
	{ErrTransactionNotFound, KindTransactionNotFound},
	{ErrInvalidTransfer, KindInvalidTransfer},
	{ErrInvalidState, KindInvalidState},
	{ErrInsufficientFunds, KindInsufficientFunds},
	{ErrPartyNotFound, KindPartyNotFound},
	{ErrInvalidAccountName, KindInvalidAccountName},
	{ErrStoreTimeout, KindStoreTimeout},
	{context.DeadlineExceeded, KindStoreTimeout},
	{ErrStoreUnavailable, KindStoreUnavailable},
}

// KindOf maps err onto a Kind. Anything unrecognised is StoreUnavailable.
// A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindStoreUnavailable
}

// Normalize guarantees err wraps one of the sentinel errors above, so callers
// never see a raw driver error. The original message is kept for logs.
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	switch KindOf(err) {
	case KindStoreTimeout:
		if errors.Is(err, ErrStoreTimeout) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreTimeout, err)
	case KindStoreUnavailable:
		if errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
