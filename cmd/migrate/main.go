// Package main provides a CLI tool for the preferences database schema.
//
// Usage:
//
//	migrate [-path dir] up
//	migrate [-path dir] down
//	migrate [-path dir] steps N
//	migrate [-path dir] version
//	migrate [-path dir] force V
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-integrator/internal/config"
	"github.com/helixir/research-integrator/internal/database"
	"github.com/helixir/research-integrator/internal/observability"
)

var errUsage = errors.New("usage: migrate [-path dir] up|down|steps N|version|force V")

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// command is one parsed CLI action.
type command struct {
	action string
	arg    int
}

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{}, errUsage
	}

	cmd := command{action: args[0]}
	switch cmd.action {
	case "up", "down", "version":
		if len(args) != 1 {
			return command{}, errUsage
		}
	case "steps", "force":
		if len(args) != 2 {
			return command{}, errUsage
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return command{}, fmt.Errorf("%s: invalid number %q", cmd.action, args[1])
		}
		if cmd.action == "steps" && n == 0 {
			return command{}, errors.New("steps: N must not be zero")
		}
		if cmd.action == "force" && n < 0 {
			return command{}, errors.New("force: version must not be negative")
		}
		cmd.arg = n
	default:
		return command{}, fmt.Errorf("unknown action %q: %w", cmd.action, errUsage)
	}
	return cmd, nil
}

func run(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	migrationsPath := fs.String("path", "", "Override the migrations directory path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cmd, err := parseCommand(fs.Args())
	if err != nil {
		return err
	}

	// Load configuration (database settings from env/config file).
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	})
	logger = logger.With().Str("component", "migrate").Logger()

	migrationDir := cfg.Database.MigrationPath
	if *migrationsPath != "" {
		migrationDir = *migrationsPath
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	switch cmd.action {
	case "up":
		logger.Info().Msg("running all pending migrations")
		err = migrator.Up()
	case "down":
		logger.Warn().Msg("rolling back all migrations")
		err = migrator.Down()
	case "steps":
		logger.Info().Int("steps", cmd.arg).Msg("running migration steps")
		err = migrator.Steps(cmd.arg)
	case "force":
		logger.Warn().Int("version", cmd.arg).Msg("forcing migration version")
		err = migrator.Force(cmd.arg)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", cmd.action, err)
	}

	printVersion(migrator, logger)
	return nil
}

// printVersion logs the current migration version.
func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}
