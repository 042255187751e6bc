package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	bq "github.com/dvloznov/p2ptransfers/internal/bigquery"
)

const archiveTable = "transactions_archive"

// Re-export interface from shared package
type ArchiveRepository = bq.ArchiveRepository

// BigQueryArchiveRepository is the concrete implementation of ArchiveRepository
// that interacts with BigQuery.
type BigQueryArchiveRepository struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewBigQueryArchiveRepository creates a repository with its own client.
func NewBigQueryArchiveRepository(ctx context.Context, projectID, datasetID string) (*BigQueryArchiveRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryArchiveRepository: creating client: %w", err)
	}
	return NewBigQueryArchiveRepositoryWithClient(client, projectID, datasetID), nil
}

// NewBigQueryArchiveRepositoryWithClient wraps an existing client.
func NewBigQueryArchiveRepositoryWithClient(client *bigquery.Client, projectID, datasetID string) *BigQueryArchiveRepository {
	return &BigQueryArchiveRepository{client: client, projectID: projectID, datasetID: datasetID}
}

// Close closes the BigQuery client connection.
func (r *BigQueryArchiveRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// InsertArchiveRows implements ArchiveRepository.
func (r *BigQueryArchiveRepository) InsertArchiveRows(ctx context.Context, rows []*bq.ArchiveRow) error {
	return InsertArchiveRowsWithClient(ctx, r.client, r.projectID, r.datasetID, rows)
}

// LastArchivedCreatedAt implements ArchiveRepository.
func (r *BigQueryArchiveRepository) LastArchivedCreatedAt(ctx context.Context) (time.Time, error) {
	return LastArchivedCreatedAtWithClient(ctx, r.client, r.projectID, r.datasetID)
}

// InsertArchiveRowsWithClient streams rows into the archive table. The
// transaction id doubles as the insert id so re-archiving a window is
// deduplicated on a best-effort basis.
func InsertArchiveRowsWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string, rows []*bq.ArchiveRow) error {
	if len(rows) == 0 {
		return nil
	}

	schema, err := bigquery.InferSchema(bq.ArchiveRow{})
	if err != nil {
		return fmt.Errorf("InsertArchiveRows: infer schema: %w", err)
	}

	savers := make([]*bigquery.StructSaver, 0, len(rows))
	for _, row := range rows {
		savers = append(savers, &bigquery.StructSaver{
			Struct:   row,
			Schema:   schema,
			InsertID: row.TransactionID,
		})
	}

	inserter := client.DatasetInProject(projectID, datasetID).Table(archiveTable).Inserter()
	if err := inserter.Put(ctx, savers); err != nil {
		return fmt.Errorf("InsertArchiveRows: inserting rows: %w", err)
	}
	return nil
}

// LastArchivedCreatedAtWithClient returns MAX(created_ts) of the archive.
func LastArchivedCreatedAtWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string) (time.Time, error) {
	q := client.Query(fmt.Sprintf(
		"SELECT MAX(created_ts) AS last_created FROM `%s.%s.%s`", projectID, datasetID, archiveTable))

	it, err := q.Read(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("LastArchivedCreatedAt: query read: %w", err)
	}

	var row struct {
		LastCreated bigquery.NullTimestamp `bigquery:"last_created"`
	}
	err = it.Next(&row)
	if err == iterator.Done {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("LastArchivedCreatedAt: iter next: %w", err)
	}
	if !row.LastCreated.Valid {
		return time.Time{}, nil
	}
	return row.LastCreated.Timestamp, nil
}

var _ ArchiveRepository = (*BigQueryArchiveRepository)(nil)
