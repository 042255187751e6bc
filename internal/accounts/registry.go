// Package accounts implements the account registry: creation with unique
// checksum-validated numbers, lookups, closing, and owner display names.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dvloznov/p2ptransfers/internal/domain"
	"github.com/dvloznov/p2ptransfers/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultMaxNumberAttempts bounds the account-number collision loop.
const DefaultMaxNumberAttempts = 16

// ErrAccountNumberExhausted is returned when every candidate number collided.
var ErrAccountNumberExhausted = fmt.Errorf("%w: no free account number found", domain.ErrStoreUnavailable)

// NumberGenerator produces candidate account numbers.
type NumberGenerator interface {
	Generate() (string, error)
}

// Registry owns account records and their status transitions.
type Registry struct {
	accounts    store.AccountStore
	parties     store.PartyDirectory
	numbers     NumberGenerator
	log         zerolog.Logger
	now         func() time.Time
	maxAttempts int
}

// NewRegistry creates a registry over the given stores.
func NewRegistry(accounts store.AccountStore, parties store.PartyDirectory, numbers NumberGenerator, log zerolog.Logger) *Registry {
	return &Registry{
		accounts:    accounts,
		parties:     parties,
		numbers:     numbers,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		maxAttempts: DefaultMaxNumberAttempts,
	}
}

// CreateAccount opens a new ACTIVE account for ownerID.
func (r *Registry) CreateAccount(ctx context.Context, ownerID, name string) (*domain.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > domain.MaxAccountNameLength {
		return nil, fmt.Errorf("CreateAccount: %w: must be 1-%d characters", domain.ErrInvalidAccountName, domain.MaxAccountNameLength)
	}

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		number, err := r.numbers.Generate()
		if err != nil {
			return nil, r.fail("CreateAccount", fmt.Errorf("generating number: %w", err))
		}

		exists, err := r.accounts.AccountNumberExists(ctx, number)
		if err != nil {
			return nil, r.fail("CreateAccount", err)
		}
		if exists {
			r.log.Debug().Int("attempt", attempt).Msg("Account number collision")
			continue
		}

		now := r.now()
		account := &domain.Account{
			ID:            uuid.New().String(),
			OwnerID:       ownerID,
			Name:          name,
			AccountNumber: number,
			Status:        domain.AccountStatusActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		err = r.accounts.CreateAccount(ctx, account)
		if errors.Is(err, domain.ErrDuplicate) {
			// lost a race between the existence check and the insert
			continue
		}
		if err != nil {
			return nil, r.fail("CreateAccount", err)
		}

		r.log.Info().
			Str("account_id", account.ID).
			Str("account_number", account.AccountNumber).
			Str("owner_id", ownerID).
			Msg("Account created")
		return account, nil
	}

	return nil, r.fail("CreateAccount", ErrAccountNumberExhausted)
}

// FindByNumber returns the account with the given number.
func (r *Registry) FindByNumber(ctx context.Context, number string) (*domain.Account, error) {
	a, err := r.accounts.GetAccountByNumber(ctx, number)
	if err != nil {
		return nil, r.fail("FindByNumber", err)
	}
	return a, nil
}

// FindByNumberAndOwner is FindByNumber scoped to ownerID.
func (r *Registry) FindByNumberAndOwner(ctx context.Context, number, ownerID string) (*domain.Account, error) {
	a, err := r.FindByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if a.OwnerID != ownerID {
		return nil, fmt.Errorf("FindByNumberAndOwner: %w", domain.ErrAccountNotFound)
	}
	return a, nil
}

// FindByID returns the account with the given id.
func (r *Registry) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	a, err := r.accounts.GetAccountByID(ctx, id)
	if err != nil {
		return nil, r.fail("FindByID", err)
	}
	return a, nil
}

// FindByIDAndOwner is FindByID scoped to ownerID.
func (r *Registry) FindByIDAndOwner(ctx context.Context, id, ownerID string) (*domain.Account, error) {
	a, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.OwnerID != ownerID {
		return nil, fmt.Errorf("FindByIDAndOwner: %w", domain.ErrAccountNotFound)
	}
	return a, nil
}

// ListByOwner lists every account of ownerID, closed ones included.
func (r *Registry) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	list, err := r.accounts.ListAccountsByOwner(ctx, ownerID, "")
	if err != nil {
		return nil, r.fail("ListByOwner", err)
	}
	return list, nil
}

// ListActiveByOwner lists only ACTIVE accounts of ownerID.
func (r *Registry) ListActiveByOwner(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	list, err := r.accounts.ListAccountsByOwner(ctx, ownerID, domain.AccountStatusActive)
	if err != nil {
		return nil, r.fail("ListActiveByOwner", err)
	}
	return list, nil
}

// Close moves the owner's account to CLOSED. A missing account and an
// account owned by someone else both report domain.ErrAccountNotFound.
func (r *Registry) Close(ctx context.Context, ownerID, number string) (*domain.Account, error) {
	a, err := r.accounts.CloseAccount(ctx, ownerID, number, r.now())
	if err != nil {
		return nil, r.fail("Close", err)
	}

	r.log.Info().
		Str("account_id", a.ID).
		Str("account_number", a.AccountNumber).
		Msg("Account closed")
	return a, nil
}

// ResolveFullDisplayName renders the owner of number as "First Middle L.".
func (r *Registry) ResolveFullDisplayName(ctx context.Context, number string) (string, error) {
	a, err := r.FindByNumber(ctx, number)
	if err != nil {
		return "", err
	}

	party, err := r.parties.FindParty(ctx, a.OwnerID)
	if err != nil {
		return "", r.fail("ResolveFullDisplayName", err)
	}
	return party.DisplayName(), nil
}

// fail normalizes err and logs it when it is an infrastructure failure.
func (r *Registry) fail(op string, err error) error {
	err = fmt.Errorf("%s: %w", op, domain.Normalize(err))
	switch domain.KindOf(err) {
	case domain.KindStoreUnavailable, domain.KindStoreTimeout:
		r.log.Error().Err(err).Str("op", op).Msg("Account store failure")
	}
	return err
}
