// Package app wires the ledger's components from configuration. The api,
// worker and cli binaries all start from here.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dvloznov/p2ptransfers/internal/accountnumber"
	"github.com/dvloznov/p2ptransfers/internal/accounts"
	"github.com/dvloznov/p2ptransfers/internal/config"
	"github.com/dvloznov/p2ptransfers/internal/gcsuploader"
	"github.com/dvloznov/p2ptransfers/internal/jobs"
	jobsmem "github.com/dvloznov/p2ptransfers/internal/jobs/inmemory"
	"github.com/dvloznov/p2ptransfers/internal/jobs/redisqueue"
	"github.com/dvloznov/p2ptransfers/internal/ledger"
	"github.com/dvloznov/p2ptransfers/internal/lock"
	"github.com/dvloznov/p2ptransfers/internal/statements"
	"github.com/dvloznov/p2ptransfers/internal/store"
	"github.com/dvloznov/p2ptransfers/internal/store/inmemory"
	"github.com/dvloznov/p2ptransfers/internal/store/postgres"
	"github.com/dvloznov/p2ptransfers/internal/sweeper"
)

// Queue is a job queue usable from both sides.
type Queue interface {
	jobs.Publisher
	jobs.Consumer
}

// App holds the wired components and everything that must be closed.
type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	Store    store.Store
	Registry *accounts.Registry
	Engine   *ledger.Engine
	Jobs     jobs.JobStore
	Queue    Queue

	// Exporter is nil when no GCS bucket is configured.
	Exporter *statements.Exporter

	locker  sweeper.Locker
	closers []func()
}

// New connects to every configured backend. Without DATABASE_URL the ledger
// lives in memory; without REDIS_ADDR jobs are in-process and the sweeper
// runs unlocked.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	if cfg.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.Store = postgres.NewStore(pool)
	} else {
		log.Warn().Msg("DATABASE_URL not set - using in-memory ledger store")
		a.Store = inmemory.NewStore()
	}

	a.Registry = accounts.NewRegistry(a.Store, a.Store, accountnumber.NewGenerator(), log)
	a.Engine = ledger.NewEngine(a.Store, a.Registry, log)

	if cfg.RedisAddr != "" {
		client, locker, err := lock.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.locker = locker
		a.useRedisQueue(client)
	} else {
		jobStore := jobsmem.NewStore()
		a.Jobs = jobStore
		a.Queue = jobsmem.NewQueue(100, 5, jobStore)
	}

	if cfg.GCSBucket != "" {
		uploader, err := gcsuploader.NewUploader(ctx, cfg.GCSBucket)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, func() { _ = uploader.Close() })
		a.Exporter = statements.NewExporter(a.Registry, a.Engine, uploader, log)
	} else {
		log.Warn().Msg("No GCS bucket configured - statement exports will be disabled")
	}

	return a, nil
}

func (a *App) useRedisQueue(client *redis.Client) {
	q := redisqueue.New(client, redisqueue.Options{}, a.Log)
	a.Jobs = q
	a.Queue = q
}

// Sweeper builds the stale-transaction sweeper, locked when Redis is
// configured.
func (a *App) Sweeper() *sweeper.Sweeper {
	return sweeper.New(a.Engine, a.locker, sweeper.Config{
		Interval:   a.Config.SweepInterval,
		StaleAfter: a.Config.StaleAfter,
	}, a.Log)
}

// JobHandler processes statement export jobs.
func (a *App) JobHandler() jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		exportJob, ok := job.(*jobs.ExportStatementJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}
		if a.Exporter == nil {
			return fmt.Errorf("statement export is not configured")
		}

		a.Log.Info().
			Str("job_id", exportJob.JobID).
			Str("account_number", exportJob.AccountNumber).
			Msg("Processing export job")

		uri, err := a.Exporter.Export(ctx, exportJob.OwnerID, exportJob.AccountNumber)
		if err != nil {
			a.Log.Error().
				Err(err).
				Str("job_id", exportJob.JobID).
				Msg("Statement export failed")
			return err
		}
		exportJob.ResultURI = uri
		return nil
	}
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
