package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"

	"SatLedger/internal/observability"
	"SatLedger/internal/persistence"
	"SatLedger/internal/projection"
	"SatLedger/migrations"

	_ "github.com/lib/pq"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|rebuild-projections>")
		fmt.Println("  up                  - apply all pending migrations")
		fmt.Println("  down                - roll back the last migration")
		fmt.Println("  rebuild-projections - truncate projections and replay the event log into them")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  SAT_POSTGRES_DSN    - Postgres connection string")
		fmt.Println("  SAT_MIGRATIONS_DIR  - migrations directory (default: embedded)")
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	pgURL := os.Getenv("SAT_POSTGRES_DSN")
	if pgURL == "" {
		pgURL = "postgres://localhost:5432/satledger?sslmode=disable"
	}

	var migrationFS fs.FS = migrations.FS
	if dir := os.Getenv("SAT_MIGRATIONS_DIR"); dir != "" {
		migrationFS = os.DirFS(dir)
	}

	db, err := sql.Open("postgres", pgURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, migrationFS, logger)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	case "rebuild-projections":
		if err := projection.RebuildProjections(ctx, db, logger); err != nil {
			logger.Fatal().Err(err).Msg("rebuild projections")
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'rebuild-projections')\n", os.Args[1])
		os.Exit(1)
	}
}
