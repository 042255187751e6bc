package statements

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/p2ptransfers/internal/domain"
	"github.com/dvloznov/p2ptransfers/internal/gcs"
)

const contentType = "text/csv"

type Accounts interface {
	FindByNumberAndOwner(ctx context.Context, number, ownerID string) (*domain.Account, error)
}

type History interface {
	History(ctx context.Context, accountID string, filter domain.TransactionFilter) ([]*domain.Transaction, error)
}

// Exporter builds an owner's statement and uploads it.
type Exporter struct {
	accounts Accounts
	history  History
	writer   gcs.ObjectWriter
	builder  *Builder
	log      zerolog.Logger
	now      func() time.Time
}

func NewExporter(accounts Accounts, history History, writer gcs.ObjectWriter, log zerolog.Logger) *Exporter {
	return &Exporter{
		accounts: accounts,
		history:  history,
		writer:   writer,
		builder:  NewBuilder(),
		log:      log.With().Str("component", "statements").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Export uploads the full statement for the owner's account and returns the
// object URI.
func (e *Exporter) Export(ctx context.Context, ownerID, accountNumber string) (string, error) {
	account, err := e.accounts.FindByNumberAndOwner(ctx, accountNumber, ownerID)
	if err != nil {
		return "", fmt.Errorf("Export: %w", err)
	}

	txs, err := e.history.History(ctx, account.ID, domain.TransactionFilter{})
	if err != nil {
		return "", fmt.Errorf("Export: history: %w", err)
	}

	data, err := e.builder.Build(account, txs)
	if err != nil {
		return "", fmt.Errorf("Export: %w", err)
	}

	uri, err := e.writer.WriteObject(ctx, ObjectName(accountNumber, e.now()), contentType, data)
	if err != nil {
		return "", fmt.Errorf("Export: upload: %w", err)
	}

	e.log.Info().
		Str("account_number", accountNumber).
		Int("rows", len(txs)).
		Str("uri", uri).
		Msg("Statement exported")
	return uri, nil
}

// ObjectName is statements/<account number>/<UTC timestamp>.csv.
func ObjectName(accountNumber string, at time.Time) string {
	return fmt.Sprintf("statements/%s/%s.csv", accountNumber, at.UTC().Format("20060102T150405Z"))
}
