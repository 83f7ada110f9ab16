package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"OutcomeMarket/internal/config"
	"OutcomeMarket/internal/observability"
	"OutcomeMarket/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/olekukonko/tablewriter"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-config file.yaml] <up|down|status>")
	fmt.Fprintln(os.Stderr, "  up     - apply all pending migrations")
	fmt.Fprintln(os.Stderr, "  down   - roll back the last migration")
	fmt.Fprintln(os.Stderr, "  status - list migrations and whether they are applied")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Environment:")
	fmt.Fprintln(os.Stderr, "  BWM_POSTGRES_DSN    - Postgres connection string")
	fmt.Fprintln(os.Stderr, "  BWM_MIGRATIONS_DIR  - path to migrations directory (default: migrations)")
}

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	logger := observability.NewLogger("migrate")

	cfg, err := config.Read(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, cfg.MigrationsDir)

	switch flag.Arg(0) {
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

	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate status")
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Version", "File", "Applied")
		for _, s := range statuses {
			applied := "no"
			if s.Applied {
				applied = "yes"
			}
			table.Append(s.Version, s.Filename, applied)
		}
		table.Render()

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}
}
