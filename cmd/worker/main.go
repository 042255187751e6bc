package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/p2ptransfers/internal/app"
	"github.com/dvloznov/p2ptransfers/internal/config"
	"github.com/dvloznov/p2ptransfers/internal/logger"
)

func main() {
	// Initialize logger
	log := logger.New()

	cfg, err := config.Load(log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log = logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, JSON: cfg.Production()})

	if cfg.DatabaseURL == "" || cfg.RedisAddr == "" {
		// An in-memory ledger or queue would be invisible to the API
		log.Fatal().Msg("Worker requires DATABASE_URL and REDIS_ADDR")
	}

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	log.Info().Msg("Starting worker service")

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		a.Sweeper().Run(ctx)
	}()

	// Start consuming jobs
	if err := a.Queue.Start(ctx, a.JobHandler()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Cancel context to stop workers
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	select {
	case <-sweepDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Sweeper did not stop in time")
	}

	log.Info().Msg("Worker service exited")
}
