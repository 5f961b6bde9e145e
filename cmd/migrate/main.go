package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/voxbill/voxbill/internal/config"
	"github.com/voxbill/voxbill/internal/logger"
)

const migrationsTable = "schema_migrations"

func main() {
	dryRun := flag.Bool("dry-run", false, "Print migration SQL without executing it")
	down := flag.Bool("down", false, "Roll back every applied migration")
	dir := flag.String("dir", "migrations/postgres", "Directory holding the SQL migrations")
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logger.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	suffix := ".up.sql"
	if *down {
		suffix = ".down.sql"
	}
	files, err := listMigrations(*dir, suffix, *down)
	if err != nil {
		logger.Fatalw("Failed to list migrations", "dir", *dir, "error", err)
	}

	if *dryRun {
		logger.Info("Dry run mode - printing migration SQL without executing")
		for _, file := range files {
			body, err := os.ReadFile(file)
			if err != nil {
				logger.Fatalw("Failed to read migration", "file", file, "error", err)
			}
			fmt.Printf("-- %s\n%s\n", filepath.Base(file), body)
		}
		return
	}

	logger.Infow("Connecting to database", "host", cfg.Postgres.Host)
	db, err := sqlx.Connect("postgres", cfg.Postgres.GetDSN())
	if err != nil {
		logger.Fatalw("Failed to connect to postgres", "error", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
		version    VARCHAR(255) PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		logger.Fatalw("Failed to create migrations table", "error", err)
	}

	for _, file := range files {
		version := strings.TrimSuffix(filepath.Base(file), suffix)
		if err := apply(ctx, db, file, version, *down); err != nil {
			logger.Fatalw("Migration failed", "version", version, "error", err)
		}
		logger.Infow("Migration applied", "version", version, "down", *down)
	}

	logger.Info("Database migrations completed")
}

// listMigrations returns the migration files in version order, reversed
// for rollbacks.
func listMigrations(dir, suffix string, reverse bool) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*"+suffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	if reverse {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}
	return files, nil
}

// apply runs one migration in a transaction and records the version.
// Applied versions are skipped going up and unapplied ones going down.
func apply(ctx context.Context, db *sqlx.DB, file, version string, down bool) error {
	body, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var applied bool
	if err := tx.GetContext(ctx, &applied,
		`SELECT EXISTS (SELECT 1 FROM `+migrationsTable+` WHERE version = $1)`, version); err != nil {
		return err
	}
	if applied != down {
		return nil
	}

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return err
	}

	if down {
		_, err = tx.ExecContext(ctx, `DELETE FROM `+migrationsTable+` WHERE version = $1`, version)
	} else {
		_, err = tx.ExecContext(ctx, `INSERT INTO `+migrationsTable+` (version) VALUES ($1)`, version)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}
