package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Runner applies migrations to one backend.
type Runner interface {
	EnsureSchemaMigrationsTable(ctx context.Context) error
	AppliedMigrations(ctx context.Context) ([]AppliedMigration, error)
	// Apply executes the migration and records it.
	Apply(ctx context.Context, m Migration, appliedBy string) error
	Close() error
}

// Pattern to match migration files: 0001_name.sql
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

var (
	target        = flag.String("target", "postgres", "Migration target: postgres or bigquery")
	databaseURL   = flag.String("database-url", os.Getenv("DATABASE_URL"), "Postgres connection URL (or set DATABASE_URL env)")
	projectID     = flag.String("project", os.Getenv("BQ_PROJECT"), "GCP project ID (bigquery target)")
	datasetID     = flag.String("dataset", envOr("BQ_DATASET", "ledger"), "BigQuery dataset ID")
	appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir = flag.String("migrations", "", "Path to migrations directory (default: migrations/<target>)")
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	flag.Parse()

	ctx := context.Background()

	dir := *migrationsDir
	if dir == "" {
		dir = filepath.Join("migrations", *target)
	}

	var (
		runner       Runner
		replacements map[string]string
		err          error
	)
	switch *target {
	case "postgres":
		if *databaseURL == "" {
			log.Fatal("Error: -database-url flag or DATABASE_URL is required for the postgres target.")
		}
		runner, err = newPostgresRunner(ctx, *databaseURL)
	case "bigquery":
		if *projectID == "" {
			log.Fatal("Error: -project flag is required. Please specify your GCP project ID.")
		}
		runner, err = newBigQueryRunner(ctx, *projectID, *datasetID)
		replacements = map[string]string{"{{PROJECT_ID}}": *projectID, "{{DATASET_ID}}": *datasetID}
	default:
		log.Fatalf("Error: unknown target %q", *target)
	}
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", *target, err)
	}
	defer runner.Close()

	log.Printf("Connected to %s target", *target)

	migrations, err := readMigrations(dir, replacements)
	if err != nil {
		log.Fatalf("Failed to read migrations: %v", err)
	}
	log.Printf("Found %d migration files", len(migrations))

	appliedCount, err := migrate(ctx, runner, migrations, *appliedBy)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if appliedCount == 0 {
		log.Println("No new migrations to apply. Database is up to date.")
	} else {
		log.Printf("Successfully applied %d migration(s)", appliedCount)
	}
}

// migrate applies every migration not yet recorded by runner, in version
// order. A recorded migration whose checksum changed is an error.
func migrate(ctx context.Context, runner Runner, migrations []Migration, appliedBy string) (int, error) {
	if err := runner.EnsureSchemaMigrationsTable(ctx); err != nil {
		return 0, fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	applied, err := runner.AppliedMigrations(ctx)
	if err != nil {
		return 0, fmt.Errorf("get applied migrations: %w", err)
	}
	log.Printf("Found %d already applied migrations", len(applied))

	appliedVersions := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		appliedVersions[am.Version] = am
	}

	count := 0
	for _, m := range migrations {
		if am, ok := appliedVersions[m.Version]; ok {
			if am.Checksum != "" && am.Checksum != m.Checksum {
				return count, fmt.Errorf("%04d_%s was modified after being applied", m.Version, m.Name)
			}
			log.Printf("  [SKIP] %04d_%s (already applied)", m.Version, m.Name)
			continue
		}

		log.Printf("  [RUN]  %04d_%s", m.Version, m.Name)
		if err := runner.Apply(ctx, m, appliedBy); err != nil {
			return count, fmt.Errorf("apply %04d_%s: %w", m.Version, m.Name, err)
		}
		log.Printf("  [OK]   %04d_%s", m.Version, m.Name)
		count++
	}
	return count, nil
}

// readMigrations reads all migration files from dir, substituting
// placeholders. Checksums cover the file content before substitution.
func readMigrations(dir string, replacements map[string]string) ([]Migration, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		// Try from repository root (in case we're in cmd/migrate)
		alt := filepath.Join("..", "..", dir)
		if _, err := os.Stat(alt); os.IsNotExist(err) {
			return nil, fmt.Errorf("migrations directory not found: %s", dir)
		}
		dir = alt
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		matches := migrationPattern.FindStringSubmatch(file.Name())
		if matches == nil {
			log.Printf("Skipping file with invalid format: %s", file.Name())
			continue
		}

		version, err := strconv.Atoi(matches[1])
		if err != nil {
			log.Printf("Skipping file with invalid version: %s", file.Name())
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", file.Name(), err)
		}

		sql := string(content)
		for placeholder, value := range replacements {
			sql = strings.ReplaceAll(sql, placeholder, value)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: file.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}
