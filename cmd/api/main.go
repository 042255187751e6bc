package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/p2ptransfers/internal/api"
	"github.com/dvloznov/p2ptransfers/internal/api/handlers"
	"github.com/dvloznov/p2ptransfers/internal/app"
	"github.com/dvloznov/p2ptransfers/internal/config"
	"github.com/dvloznov/p2ptransfers/internal/jobs"
	"github.com/dvloznov/p2ptransfers/internal/logger"
)

func main() {
	// Initialize logger
	log := logger.New()

	cfg, err := config.Load(log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Parse command-line flags
	var (
		port        = flag.String("port", cfg.Port, "HTTP server port (or set PORT env)")
		noSweeper   = flag.Bool("no-sweeper", false, "Do not run the stale-transaction sweeper in this process")
		noJobWorker = flag.Bool("no-job-worker", false, "Do not consume export jobs in this process")
	)
	flag.Parse()

	log = logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, JSON: cfg.Production()})

	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	// Background work stops with this context
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if !*noSweeper {
		go a.Sweeper().Run(workerCtx)
	}

	if !*noJobWorker {
		log.Info().Msg("Starting job worker")
		if err := a.Queue.Start(workerCtx, a.JobHandler()); err != nil {
			log.Error().Err(err).Msg("Job worker failed to start")
		}
	}

	var publisher jobs.Publisher
	if a.Exporter != nil || cfg.RedisAddr != "" {
		publisher = a.Queue
	}

	handler := api.NewRouter(api.Handlers{
		Accounts:     handlers.NewAccountsHandler(a.Registry, a.Engine, publisher, log),
		Transactions: handlers.NewTransactionsHandler(a.Engine, log),
		Jobs:         handlers.NewJobsHandler(a.Jobs, log),
	}, cfg.StoreTimeout, log)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}
