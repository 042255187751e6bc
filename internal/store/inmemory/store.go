package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/p2ptransfers/internal/domain"
	"github.com/dvloznov/p2ptransfers/internal/store"
)

// Store is an in-memory implementation of store.Store.
// A single mutex guards every map, which makes TransitionPending atomic with
// the balance reads its decider performs.
// Data is lost on restart - for persistence, use the postgres store.
type Store struct {
	mu           sync.RWMutex
	accounts     map[string]*domain.Account
	byNumber     map[string]string
	parties      map[string]*domain.Party
	transactions map[string]*domain.Transaction
	order        []string
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		accounts:     make(map[string]*domain.Account),
		byNumber:     make(map[string]string),
		parties:      make(map[string]*domain.Party),
		transactions: make(map[string]*domain.Transaction),
	}
}

// SaveParty registers or replaces a party.
func (s *Store) SaveParty(ctx context.Context, party *domain.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := *party
	s.parties[party.ID] = &p
	return nil
}

// FindParty implements store.PartyDirectory.
func (s *Store) FindParty(ctx context.Context, id string) (*domain.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.parties[id]
	if !ok {
		return nil, domain.ErrPartyNotFound
	}
	party := *p
	return &party, nil
}

// CreateAccount implements store.AccountStore.
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byNumber[account.AccountNumber]; taken {
		return domain.ErrDuplicate
	}
	if _, taken := s.accounts[account.ID]; taken {
		return domain.ErrDuplicate
	}

	a := *account
	s.accounts[a.ID] = &a
	s.byNumber[a.AccountNumber] = a.ID
	return nil
}

// AccountNumberExists implements store.AccountStore.
func (s *Store) AccountNumberExists(ctx context.Context, number string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byNumber[number]
	return ok, nil
}

// GetAccountByID implements store.AccountStore.
func (s *Store) GetAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	account := *a
	return &account, nil
}

// GetAccountByNumber implements store.AccountStore.
func (s *Store) GetAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byNumber[number]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	account := *s.accounts[id]
	return &account, nil
}

// ListAccountsByOwner implements store.AccountStore.
func (s *Store) ListAccountsByOwner(ctx context.Context, ownerID string, status domain.AccountStatus) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*domain.Account{}
	for _, a := range s.accounts {
		if a.OwnerID != ownerID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		account := *a
		result = append(result, &account)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].AccountNumber < result[j].AccountNumber
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// CloseAccount implements store.AccountStore.
func (s *Store) CloseAccount(ctx context.Context, ownerID, number string, at time.Time) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byNumber[number]
	if !ok || s.accounts[id].OwnerID != ownerID {
		return nil, domain.ErrAccountNotFound
	}

	a := s.accounts[id]
	if a.Status.CanTransitionTo(domain.AccountStatusClosed) {
		a.Status = domain.AccountStatusClosed
		a.UpdatedAt = at
	}
	account := *a
	return &account, nil
}

// InsertTransaction implements store.LedgerStore.
func (s *Store) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.transactions[tx.ID]; taken {
		return domain.ErrDuplicate
	}
	s.transactions[tx.ID] = copyTransaction(tx)
	s.order = append(s.order, tx.ID)
	return nil
}

// GetTransaction implements store.LedgerStore.
func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return copyTransaction(tx), nil
}

// GetTransactionBySourceOwner implements store.LedgerStore.
func (s *Store) GetTransactionBySourceOwner(ctx context.Context, id, ownerID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok || tx.SourceAccountID == nil {
		return nil, domain.ErrTransactionNotFound
	}
	source, ok := s.accounts[*tx.SourceAccountID]
	if !ok || source.OwnerID != ownerID {
		return nil, domain.ErrTransactionNotFound
	}
	return copyTransaction(tx), nil
}

// ListTransactions implements store.LedgerStore.
func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*domain.Transaction{}
	for _, id := range s.order {
		tx := s.transactions[id]
		if filter.AccountID != "" && !tx.Touches(filter.AccountID) {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if !filter.CreatedFrom.IsZero() && tx.CreatedAt.Before(filter.CreatedFrom) {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !tx.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		result = append(result, copyTransaction(tx))
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	// Apply limit and offset
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*domain.Transaction{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// SumCompleted implements store.LedgerStore.
func (s *Store) SumCompleted(ctx context.Context, accountID string) (store.Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sumCompletedLocked(accountID), nil
}

func (s *Store) sumCompletedLocked(accountID string) store.Totals {
	var totals store.Totals
	for _, tx := range s.transactions {
		if tx.Status != domain.TransactionStatusCompleted {
			continue
		}
		if tx.RecipientAccountID == accountID {
			totals.Credited += tx.Amount
		}
		if tx.IsSource(accountID) {
			totals.Debited += tx.Amount
		}
	}
	return totals
}

// TransitionPending implements store.LedgerStore.
// The decider runs under the write lock, so balance reads and the status
// write form one unit.
func (s *Store) TransitionPending(ctx context.Context, id string, at time.Time, decide store.Decider) (*domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	if tx.Status != domain.TransactionStatusPending {
		return nil, domain.ErrInvalidState
	}

	balance := func(ctx context.Context, accountID string) (int64, error) {
		return s.sumCompletedLocked(accountID).Balance(), nil
	}

	next, err := decide(ctx, copyTransaction(tx), balance)
	if err != nil {
		return nil, err
	}
	if !tx.Status.CanTransitionTo(next) {
		return nil, domain.ErrInvalidState
	}

	tx.Status = next
	tx.UpdatedAt = at
	return copyTransaction(tx), nil
}

// FailPendingBefore implements store.LedgerStore.
func (s *Store) FailPendingBefore(ctx context.Context, cutoff, at time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var failed []string
	for _, id := range s.order {
		tx := s.transactions[id]
		if tx.Status != domain.TransactionStatusPending || !tx.CreatedAt.Before(cutoff) {
			continue
		}
		tx.Status = domain.TransactionStatusFailed
		tx.UpdatedAt = at
		failed = append(failed, id)
	}
	return failed, nil
}

func copyTransaction(tx *domain.Transaction) *domain.Transaction {
	c := *tx
	if tx.SourceAccountID != nil {
		src := *tx.SourceAccountID
		c.SourceAccountID = &src
	}
	return &c
}

// Ensure Store implements the store interfaces.
var _ store.Store = (*Store)(nil)
