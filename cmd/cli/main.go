package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/p2ptransfers/internal/app"
	"github.com/dvloznov/p2ptransfers/internal/archive"
	"github.com/dvloznov/p2ptransfers/internal/config"
	"github.com/dvloznov/p2ptransfers/internal/domain"
	infraBQ "github.com/dvloznov/p2ptransfers/internal/infra/bigquery"
	"github.com/dvloznov/p2ptransfers/internal/logger"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	commands := map[string]func(context.Context, *app.App, []string) error{
		"party":    runParty,
		"open":     runOpen,
		"close":    runClose,
		"deposit":  runDeposit,
		"transfer": runTransfer,
		"confirm":  runConfirm,
		"cancel":   runCancel,
		"balance":  runBalance,
		"history":  runHistory,
		"sweep":    runSweep,
		"archive":  runArchive,
		"export":   runExport,
	}

	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage()
		return
	}
	run, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set - changes will not outlive this command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log.Level(zerolog.WarnLevel))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	if err := run(ctx, a, os.Args[2:]); err != nil {
		log.Error().Err(err).Str("kind", string(domain.KindOf(err))).Msgf("%s failed", name)
		a.Close()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("P2P Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  party     Register a party in the directory")
	fmt.Println("  open      Open an account, optionally with an initial deposit")
	fmt.Println("  close     Close an account")
	fmt.Println("  deposit   Record an initial deposit into an account")
	fmt.Println("  transfer  Create a pending transfer")
	fmt.Println("  confirm   Confirm a pending transfer")
	fmt.Println("  cancel    Cancel a pending transfer")
	fmt.Println("  balance   Show an account balance")
	fmt.Println("  history   List an account's transactions")
	fmt.Println("  sweep     Fail stale pending transfers once")
	fmt.Println("  archive   Copy terminal transactions to BigQuery")
	fmt.Println("  export    Export an account statement to GCS")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runParty(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("party", flag.ExitOnError)
	id := fs.String("id", "", "Party ID (generated when empty)")
	email := fs.String("email", "", "Email")
	first := fs.String("first", "", "First name")
	middle := fs.String("middle", "", "Middle name")
	last := fs.String("last", "", "Last name")
	fs.Parse(args)

	if *first == "" || *last == "" {
		return fmt.Errorf("--first and --last are required")
	}
	if *id == "" {
		*id = uuid.New().String()
	}

	saver, ok := a.Store.(interface {
		SaveParty(ctx context.Context, p *domain.Party) error
	})
	if !ok {
		return fmt.Errorf("store does not support saving parties")
	}

	p := &domain.Party{ID: *id, Email: *email, FirstName: *first, MiddleName: *middle, LastName: *last, CreatedAt: time.Now().UTC()}
	if err := saver.SaveParty(ctx, p); err != nil {
		return err
	}
	return printJSON(p)
}

func runOpen(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner party ID")
	name := fs.String("name", "", "Account name")
	deposit := fs.Int64("deposit", 0, "Initial deposit in minor units")
	fs.Parse(args)

	if *owner == "" {
		return fmt.Errorf("--owner is required")
	}

	account, tx, err := a.Engine.OpenAccount(ctx, *owner, *name, *deposit)
	if account != nil {
		if perr := printJSON(map[string]any{"account": account, "deposit": tx}); perr != nil {
			return perr
		}
	}
	return err
}

func runClose(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("close", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner party ID")
	number := fs.String("number", "", "Account number")
	fs.Parse(args)

	account, err := a.Registry.Close(ctx, *owner, *number)
	if err != nil {
		return err
	}
	return printJSON(account)
}

func runDeposit(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("deposit", flag.ExitOnError)
	number := fs.String("number", "", "Account number")
	amount := fs.Int64("amount", 0, "Amount in minor units")
	fs.Parse(args)

	account, err := a.Registry.FindByNumber(ctx, *number)
	if err != nil {
		return err
	}
	tx, err := a.Engine.CreateInitialDeposit(ctx, account.ID, *amount)
	if err != nil {
		return err
	}
	return printJSON(tx)
}

func runTransfer(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("transfer", flag.ExitOnError)
	from := fs.String("from", "", "Source account number")
	to := fs.String("to", "", "Recipient account number")
	amount := fs.Int64("amount", 0, "Amount in minor units")
	confirm := fs.Bool("confirm", false, "Confirm immediately")
	fs.Parse(args)

	tx, err := a.Engine.CreateTransfer(ctx, *from, *to, *amount)
	if err != nil {
		return err
	}
	if *confirm {
		if tx, err = a.Engine.ConfirmTransfer(ctx, tx.ID); err != nil {
			return err
		}
	}
	return printJSON(tx)
}

func runConfirm(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("confirm", flag.ExitOnError)
	id := fs.String("id", "", "Transaction ID")
	fs.Parse(args)

	tx, err := a.Engine.ConfirmTransfer(ctx, *id)
	if err != nil {
		return err
	}
	return printJSON(tx)
}

func runCancel(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	id := fs.String("id", "", "Transaction ID")
	owner := fs.String("owner", "", "Owner of the source account")
	fs.Parse(args)

	tx, err := a.Engine.CancelTransfer(ctx, *id, *owner)
	if err != nil {
		return err
	}
	return printJSON(tx)
}

func runBalance(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	number := fs.String("number", "", "Account number")
	fs.Parse(args)

	account, err := a.Registry.FindByNumber(ctx, *number)
	if err != nil {
		return err
	}
	balance, err := a.Engine.GetBalance(ctx, account.ID)
	if err != nil {
		return err
	}
	return printJSON(domain.AccountWithBalance{Account: *account, Balance: balance})
}

func runHistory(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	number := fs.String("number", "", "Account number")
	status := fs.String("status", "", "Only this status")
	limit := fs.Int("limit", 50, "Maximum rows")
	fs.Parse(args)

	account, err := a.Registry.FindByNumber(ctx, *number)
	if err != nil {
		return err
	}

	filter := domain.TransactionFilter{Limit: *limit}
	if *status != "" {
		if filter.Status, err = domain.ParseTransactionStatus(*status); err != nil {
			return err
		}
	}

	txs, err := a.Engine.History(ctx, account.ID, filter)
	if err != nil {
		return err
	}
	return printJSON(txs)
}

func runSweep(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	fs.Parse(args)

	n, err := a.Sweeper().Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Failed %d stale transaction(s).\n", n)
	return nil
}

func runArchive(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	project := fs.String("project", a.Config.BigQueryProject, "GCP project ID (or set BQ_PROJECT env)")
	dataset := fs.String("dataset", a.Config.BigQueryDataset, "BigQuery dataset ID")
	from := fs.String("from", "", "Window start, RFC3339 (default: resume after last archived)")
	to := fs.String("to", "", "Window end, RFC3339 (default: now)")
	fs.Parse(args)

	if *project == "" {
		return fmt.Errorf("--project is required")
	}

	var window [2]time.Time
	for i, v := range []string{*from, *to} {
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("invalid time %q: %w", v, err)
		}
		window[i] = t
	}

	repo, err := infraBQ.NewBigQueryArchiveRepository(ctx, *project, *dataset)
	if err != nil {
		return err
	}
	defer repo.Close()

	n, err := archive.NewArchiver(a.Engine, repo, a.Log).Archive(ctx, window[0], window[1])
	if err != nil {
		return err
	}
	fmt.Printf("Archived %d transaction(s).\n", n)
	return nil
}

func runExport(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner party ID")
	number := fs.String("number", "", "Account number")
	fs.Parse(args)

	if a.Exporter == nil {
		return fmt.Errorf("GCS_BUCKET is not set")
	}
	uri, err := a.Exporter.Export(ctx, *owner, *number)
	if err != nil {
		return err
	}
	fmt.Println(uri)
	return nil
}
