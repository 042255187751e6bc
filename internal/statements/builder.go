// Package statements renders account statements and exports them to
// object storage.
package statements

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/p2ptransfers/internal/domain"
)

const (
	DirectionCredit = "CREDIT"
	DirectionDebit  = "DEBIT"
)

var header = []string{
	"date", "transaction_id", "type", "direction", "counterparty_account_id",
	"amount", "status", "balance",
}

// Builder renders a statement as CSV. Amounts are minor units shown with two
// decimals; the balance column only moves on COMPLETED rows.
type Builder struct {
	location *time.Location
}

func NewBuilder() *Builder {
	return &Builder{location: time.UTC}
}

// PostedAt is when tx took effect: the confirmation time for COMPLETED
// transfers, the creation time for everything else.
func PostedAt(tx *domain.Transaction) time.Time {
	if tx.Status == domain.TransactionStatusCompleted && !tx.UpdatedAt.IsZero() {
		return tx.UpdatedAt
	}
	return tx.CreatedAt
}

// Build renders txs, all touching account, in PostedAt order so the balance
// column replays the balances the account actually had.
func (b *Builder) Build(account *domain.Account, txs []*domain.Transaction) ([]byte, error) {
	txs = slices.Clone(txs)
	slices.SortStableFunc(txs, func(x, y *domain.Transaction) int {
		return PostedAt(x).Compare(PostedAt(y))
	})

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("Build: header: %w", err)
	}

	var balance int64
	for _, tx := range txs {
		if !tx.Touches(account.ID) {
			return nil, fmt.Errorf("Build: transaction %s does not touch account %s", tx.ID, account.ID)
		}

		direction, counterparty := DirectionCredit, tx.Source()
		if tx.IsSource(account.ID) {
			direction, counterparty = DirectionDebit, tx.RecipientAccountID
		}
		balance += tx.SignedAmount(account.ID)

		record := []string{
			PostedAt(tx).In(b.location).Format(time.RFC3339),
			tx.ID,
			string(tx.Type),
			direction,
			counterparty,
			FormatAmount(tx.Amount),
			string(tx.Status),
			FormatAmount(balance),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("Build: row %s: %w", tx.ID, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("Build: flush: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatAmount renders minor units, e.g. 12345 as "123.45".
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
