package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dvloznov/p2ptransfers/internal/domain"
	"github.com/dvloznov/p2ptransfers/internal/logger"
	"github.com/dvloznov/p2ptransfers/internal/store"
)

const transactionColumns = `id, source_account_id, recipient_account_id, amount, type, status, created_at, updated_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var txType, status string
	if err := row.Scan(&t.ID, &t.SourceAccountID, &t.RecipientAccountID, &t.Amount, &txType, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Type = domain.TransactionType(txType)
	t.Status = domain.TransactionStatus(status)
	return &t, nil
}

// InsertTransaction implements store.LedgerStore.
func (s *Store) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.SourceAccountID, t.RecipientAccountID, t.Amount, string(t.Type), string(t.Status), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("InsertTransaction: %w", translate(err, nil))
	}
	return nil
}

// GetTransaction implements store.LedgerStore.
func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	t, err := scanTransaction(s.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", translate(err, domain.ErrTransactionNotFound))
	}
	return t, nil
}

// GetTransactionBySourceOwner implements store.LedgerStore.
func (s *Store) GetTransactionBySourceOwner(ctx context.Context, id, ownerID string) (*domain.Transaction, error) {
	t, err := scanTransaction(s.pool.QueryRow(ctx, `
		SELECT t.id, t.source_account_id, t.recipient_account_id, t.amount, t.type, t.status, t.created_at, t.updated_at
		FROM transactions t
		JOIN accounts a ON a.id = t.source_account_id
		WHERE t.id = $1 AND a.owner_id = $2`, id, ownerID))
	if err != nil {
		return nil, fmt.Errorf("GetTransactionBySourceOwner: %w", translate(err, domain.ErrTransactionNotFound))
	}
	return t, nil
}

// ListTransactions implements store.LedgerStore.
func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.AccountID != "" {
		p := arg(filter.AccountID)
		where = append(where, "(source_account_id = "+p+" OR recipient_account_id = "+p+")")
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if !filter.CreatedFrom.IsZero() {
		where = append(where, "created_at >= "+arg(filter.CreatedFrom))
	}
	if !filter.CreatedBefore.IsZero() {
		where = append(where, "created_at < "+arg(filter.CreatedBefore))
	}

	var q strings.Builder
	q.WriteString(`SELECT ` + transactionColumns + ` FROM transactions`)
	if len(where) > 0 {
		q.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	q.WriteString(" ORDER BY created_at, id")
	if filter.Limit > 0 {
		q.WriteString(" LIMIT " + arg(filter.Limit))
	}
	if filter.Offset > 0 {
		q.WriteString(" OFFSET " + arg(filter.Offset))
	}

	rows, err := s.pool.Query(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", translate(err, nil))
	}
	defer rows.Close()

	result := []*domain.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: scan: %w", translate(err, nil))
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", translate(err, nil))
	}
	return result, nil
}

// SumCompleted implements store.LedgerStore.
func (s *Store) SumCompleted(ctx context.Context, accountID string) (store.Totals, error) {
	totals, err := sumCompleted(ctx, s.pool, accountID)
	if err != nil {
		return store.Totals{}, fmt.Errorf("SumCompleted: %w", err)
	}
	return totals, nil
}

func sumCompleted(ctx context.Context, q querier, accountID string) (store.Totals, error) {
	var t store.Totals
	err := q.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE recipient_account_id = $1), 0)::bigint,
			COALESCE(SUM(amount) FILTER (WHERE source_account_id = $1), 0)::bigint
		FROM transactions
		WHERE status = 'COMPLETED'
		  AND (recipient_account_id = $1 OR source_account_id = $1)`, accountID).
		Scan(&t.Credited, &t.Debited)
	if err != nil {
		return store.Totals{}, translate(err, nil)
	}
	return t, nil
}

// TransitionPending implements store.LedgerStore.
func (s *Store) TransitionPending(ctx context.Context, id string, at time.Time, decide store.Decider) (*domain.Transaction, error) {
	dbTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("TransitionPending: begin: %w", translate(err, nil))
	}
	defer func() {
		// no-op after a successful commit
		_ = dbTx.Rollback(ctx)
	}()

	current, err := scanTransaction(dbTx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("TransitionPending: load: %w", translate(err, domain.ErrTransactionNotFound))
	}
	if current.Status != domain.TransactionStatusPending {
		return nil, domain.ErrInvalidState
	}

	if current.SourceAccountID != nil {
		if _, err := dbTx.Exec(ctx, `SELECT 1 FROM accounts WHERE id = $1 FOR UPDATE`, *current.SourceAccountID); err != nil {
			return nil, fmt.Errorf("TransitionPending: lock source: %w", translate(err, nil))
		}
	}

	balance := func(ctx context.Context, accountID string) (int64, error) {
		totals, err := sumCompleted(ctx, dbTx, accountID)
		if err != nil {
			return 0, err
		}
		return totals.Balance(), nil
	}

	next, err := decide(ctx, current, balance)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(next) {
		return nil, domain.ErrInvalidState
	}

	tag, err := dbTx.Exec(ctx, `
		UPDATE transactions SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'PENDING'`, id, string(next), at)
	if err != nil {
		return nil, fmt.Errorf("TransitionPending: update: %w", translate(err, nil))
	}
	if tag.RowsAffected() != 1 {
		return nil, domain.ErrInvalidState
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("TransitionPending: commit: %w", translate(err, nil))
	}

	current.Status = next
	current.UpdatedAt = at
	return current, nil
}

// FailPendingBefore implements store.LedgerStore.
func (s *Store) FailPendingBefore(ctx context.Context, cutoff, at time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE transactions SET status = 'FAILED', updated_at = $2
		WHERE status = 'PENDING' AND created_at < $1
		RETURNING id`, cutoff, at)
	if err != nil {
		return nil, fmt.Errorf("FailPendingBefore: %w", translate(err, nil))
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("FailPendingBefore: %w", translate(err, nil))
	}

	if len(ids) > 0 {
		log := logger.FromContext(ctx)
		log.Debug().Int("count", len(ids)).Time("cutoff", cutoff).Msg("Stale transactions failed")
	}
	return ids, nil
}
