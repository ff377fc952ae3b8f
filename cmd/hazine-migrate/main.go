// Command hazine-migrate applies or rolls back the schema of the configured
// backend.
//
//	hazine-migrate up
//	hazine-migrate down [steps]   # all migrations when steps is omitted
//	hazine-migrate version
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"hazine/internal/backend"
	"hazine/internal/cli"
	"hazine/internal/config"
	"hazine/internal/log"
)

func main() {
	if err := cli.LoadEnvFile(); err != nil {
		fmt.Fprintln(os.Stderr, "load env file:", err)
	}
	cfg := cli.LoadAndValidateConfig(cli.SetupLogger(nil))
	logger := cli.SetupLogger(cfg).WithComponent(log.ComponentMigrate)

	if err := run(cfg, logger, os.Args[1:]); err != nil {
		logger.Error("Migration failed", log.FieldError, err.Error(), "backend", cfg.DataBackend)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *log.Logger, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: hazine-migrate up|down [steps]|version")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	m, err := backend.NewMigrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	switch args[0] {
	case "up":
		if err := m.Up(ctx); err != nil {
			return err
		}
	case "down":
		steps := 0
		if len(args) > 1 {
			if steps, err = strconv.Atoi(args[1]); err != nil || steps < 0 {
				return fmt.Errorf("invalid step count %q", args[1])
			}
		}
		if err := m.Down(ctx, steps); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}

	version, dirty, err := m.Version(ctx)
	if err != nil {
		return err
	}
	logger.Info("Schema version", "version", version, "dirty", dirty)
	return nil
}
