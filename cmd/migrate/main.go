package main

import (
	"fmt"
	"os"

	"github.com/Rrens/genai-platform/internal/config"
	"github.com/Rrens/genai-platform/internal/repository/postgres"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists
	_ = godotenv.Load()

	var steps int
	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.IntVar(&steps, "steps", 1, "number of migrations to roll back with down")
	flagSet.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|version] [--steps N]")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	command := "up"
	if args := flagSet.Args(); len(args) > 0 {
		command = args[0]
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	dsn := cfg.Database.DSN()

	fmt.Printf("Connecting to database at %s:%d...\n", cfg.Database.Host, cfg.Database.Port)

	switch command {
	case "up":
		if err := postgres.RunMigrations(dsn); err != nil {
			return err
		}
	case "down":
		if steps < 1 {
			return fmt.Errorf("--steps must be positive")
		}
		if err := postgres.RollbackMigrations(dsn, steps); err != nil {
			return err
		}
	case "version":
	default:
		flagSet.Usage()
		return fmt.Errorf("unknown command %q", command)
	}

	version, dirty, err := postgres.MigrationVersion(dsn)
	if err != nil {
		return err
	}
	fmt.Printf("Schema version %d (dirty: %t)\n", version, dirty)
	return nil
}
