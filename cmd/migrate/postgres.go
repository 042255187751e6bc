package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dvloznov/p2ptransfers/internal/store/postgres"
)

type postgresRunner struct {
	pool *pgxpool.Pool
}

func newPostgresRunner(ctx context.Context, databaseURL string) (*postgresRunner, error) {
	pool, err := postgres.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &postgresRunner{pool: pool}, nil
}

func (r *postgresRunner) Close() error {
	r.pool.Close()
	return nil
}

func (r *postgresRunner) EnsureSchemaMigrationsTable(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			checksum   TEXT,
			applied_by TEXT
		)`)
	return err
}

func (r *postgresRunner) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT version, name, applied_at, COALESCE(checksum, ''), COALESCE(applied_by, '')
		FROM schema_migrations
		ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (AppliedMigration, error) {
		var am AppliedMigration
		err := row.Scan(&am.Version, &am.Name, &am.AppliedAt, &am.Checksum, &am.AppliedBy)
		return am, err
	})
}

// Apply runs the migration and records it in one transaction.
func (r *postgresRunner) Apply(ctx context.Context, m Migration, appliedBy string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("executing %s: %w", m.Filename, err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO schema_migrations (version, name, checksum, applied_by)
			VALUES ($1, $2, $3, $4)`, m.Version, m.Name, m.Checksum, appliedBy)
		if err != nil {
			return fmt.Errorf("record migration: %w", err)
		}
		return nil
	})
}
