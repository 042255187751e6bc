// Package archive copies terminal ledger transactions into the analytics
// warehouse.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	bq "github.com/dvloznov/p2ptransfers/internal/bigquery"
	"github.com/dvloznov/p2ptransfers/internal/domain"
)

const DefaultPageSize = 500

// Source lists ledger transactions by status.
type Source interface {
	ListByStatus(ctx context.Context, status domain.TransactionStatus, filter domain.TransactionFilter) ([]*domain.Transaction, error)
}

// Archiver pages terminal transactions out of the ledger into an
// ArchiveRepository.
type Archiver struct {
	source   Source
	repo     bq.ArchiveRepository
	log      zerolog.Logger
	now      func() time.Time
	pageSize int
}

func NewArchiver(source Source, repo bq.ArchiveRepository, log zerolog.Logger) *Archiver {
	return &Archiver{
		source:   source,
		repo:     repo,
		log:      log.With().Str("component", "archiver").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
		pageSize: DefaultPageSize,
	}
}

// Archive writes every terminal transaction created in [from, to). A zero
// from resumes after the newest archived transaction; a zero to means now.
// Rows already archived are re-sent and deduplicated by the repository.
func (a *Archiver) Archive(ctx context.Context, from, to time.Time) (int, error) {
	if from.IsZero() {
		last, err := a.repo.LastArchivedCreatedAt(ctx)
		if err != nil {
			return 0, fmt.Errorf("Archive: last archived: %w", err)
		}
		from = last
	}
	if to.IsZero() {
		to = a.now()
	}
	if !from.IsZero() && !to.After(from) {
		return 0, fmt.Errorf("Archive: %w: window end %s is not after start %s",
			domain.ErrInvalidTransfer, to.Format(time.RFC3339), from.Format(time.RFC3339))
	}

	archivedAt := a.now()
	total := 0
	for _, status := range []domain.TransactionStatus{
		domain.TransactionStatusCompleted,
		domain.TransactionStatusCancelled,
		domain.TransactionStatusFailed,
	} {
		n, err := a.archiveStatus(ctx, status, from, to, archivedAt)
		total += n
		if err != nil {
			return total, err
		}
	}

	a.log.Info().
		Int("count", total).
		Time("from", from).
		Time("to", to).
		Msg("Archive complete")
	return total, nil
}

func (a *Archiver) archiveStatus(ctx context.Context, status domain.TransactionStatus, from, to, archivedAt time.Time) (int, error) {
	written := 0
	for offset := 0; ; offset += a.pageSize {
		page, err := a.source.ListByStatus(ctx, status, domain.TransactionFilter{
			CreatedFrom:   from,
			CreatedBefore: to,
			Limit:         a.pageSize,
			Offset:        offset,
		})
		if err != nil {
			return written, fmt.Errorf("Archive: list %s: %w", status, err)
		}
		if len(page) == 0 {
			return written, nil
		}

		rows := make([]*bq.ArchiveRow, 0, len(page))
		for _, tx := range page {
			rows = append(rows, bq.NewArchiveRow(tx, archivedAt))
		}
		if err := a.repo.InsertArchiveRows(ctx, rows); err != nil {
			return written, fmt.Errorf("Archive: insert %s page at offset %d: %w", status, offset, err)
		}
		written += len(rows)

		a.log.Debug().Str("status", string(status)).Int("offset", offset).Int("rows", len(rows)).Msg("Archived page")
		if len(page) < a.pageSize {
			return written, nil
		}
	}
}
