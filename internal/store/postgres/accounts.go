package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dvloznov/p2ptransfers/internal/domain"
)

const accountColumns = `id, owner_id, name, account_number, status, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	var status string
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.AccountNumber, &status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = domain.AccountStatus(status)
	return &a, nil
}

// CreateAccount implements store.AccountStore.
func (s *Store) CreateAccount(ctx context.Context, a *domain.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.OwnerID, a.Name, a.AccountNumber, string(a.Status), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("CreateAccount: %w", translate(err, nil))
	}
	return nil
}

// AccountNumberExists implements store.AccountStore.
func (s *Store) AccountNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE account_number = $1)`, number).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("AccountNumberExists: %w", translate(err, nil))
	}
	return exists, nil
}

// GetAccountByID implements store.AccountStore.
func (s *Store) GetAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("GetAccountByID: %w", translate(err, domain.ErrAccountNotFound))
	}
	return a, nil
}

// GetAccountByNumber implements store.AccountStore.
func (s *Store) GetAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, number))
	if err != nil {
		return nil, fmt.Errorf("GetAccountByNumber: %w", translate(err, domain.ErrAccountNotFound))
	}
	return a, nil
}

// ListAccountsByOwner implements store.AccountStore.
func (s *Store) ListAccountsByOwner(ctx context.Context, ownerID string, status domain.AccountStatus) ([]*domain.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE owner_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY created_at, account_number`,
		ownerID, string(status))
	if err != nil {
		return nil, fmt.Errorf("ListAccountsByOwner: %w", translate(err, nil))
	}
	defer rows.Close()

	result := []*domain.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("ListAccountsByOwner: scan: %w", translate(err, nil))
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListAccountsByOwner: %w", translate(err, nil))
	}
	return result, nil
}

// CloseAccount implements store.AccountStore.
func (s *Store) CloseAccount(ctx context.Context, ownerID, number string, at time.Time) (*domain.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `
		UPDATE accounts
		SET status = 'CLOSED',
		    updated_at = CASE WHEN status = 'ACTIVE' THEN $3 ELSE updated_at END
		WHERE owner_id = $1 AND account_number = $2
		RETURNING `+accountColumns,
		ownerID, number, at))
	if err != nil {
		return nil, fmt.Errorf("CloseAccount: %w", translate(err, domain.ErrAccountNotFound))
	}
	return a, nil
}

// SaveParty inserts or updates a party record.
func (s *Store) SaveParty(ctx context.Context, p *domain.Party) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO parties (id, email, first_name, middle_name, last_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			middle_name = EXCLUDED.middle_name,
			last_name = EXCLUDED.last_name`,
		p.ID, p.Email, p.FirstName, p.MiddleName, p.LastName, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("SaveParty: %w", translate(err, nil))
	}
	return nil
}

// FindParty implements store.PartyDirectory.
func (s *Store) FindParty(ctx context.Context, id string) (*domain.Party, error) {
	var p domain.Party
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, first_name, COALESCE(middle_name, ''), COALESCE(last_name, ''), created_at
		FROM parties WHERE id = $1`, id).
		Scan(&p.ID, &p.Email, &p.FirstName, &p.MiddleName, &p.LastName, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("FindParty: %w", translate(err, domain.ErrPartyNotFound))
	}
	return &p, nil
}
