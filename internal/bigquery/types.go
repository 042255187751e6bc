package bigquery

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/p2ptransfers/internal/domain"
)

// ArchiveRepository provides an interface for the transaction archive.
type ArchiveRepository interface {
	// InsertArchiveRows writes rows, deduplicated on transaction_id.
	InsertArchiveRows(ctx context.Context, rows []*ArchiveRow) error

	// LastArchivedCreatedAt returns the newest created_ts in the archive,
	// or the zero time when the archive is empty.
	LastArchivedCreatedAt(ctx context.Context) (time.Time, error)

	// Close releases the underlying client.
	Close() error
}

// ArchiveRow represents a terminal ledger transaction in BigQuery.
type ArchiveRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	SourceAccountID    bigquery.NullString `bigquery:"source_account_id"` // NULL for deposits
	RecipientAccountID string              `bigquery:"recipient_account_id"`

	Amount int64  `bigquery:"amount"` // minor units
	Type   string `bigquery:"type"`
	Status string `bigquery:"status"`

	CreatedTS  time.Time `bigquery:"created_ts"`
	UpdatedTS  time.Time `bigquery:"updated_ts"`
	ArchivedTS time.Time `bigquery:"archived_ts"`
}

// NewArchiveRow converts a ledger transaction into its archive shape.
func NewArchiveRow(tx *domain.Transaction, archivedAt time.Time) *ArchiveRow {
	row := &ArchiveRow{
		TransactionID:      tx.ID,
		RecipientAccountID: tx.RecipientAccountID,
		Amount:             tx.Amount,
		Type:               string(tx.Type),
		Status:             string(tx.Status),
		CreatedTS:          tx.CreatedAt,
		UpdatedTS:          tx.UpdatedAt,
		ArchivedTS:         archivedAt,
	}
	if tx.SourceAccountID != nil {
		row.SourceAccountID = bigquery.NullString{StringVal: *tx.SourceAccountID, Valid: true}
	}
	return row
}
