package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/runnerr0/dwell/internal/app"
	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/daemon"
	"github.com/runnerr0/dwell/internal/logging"
)

// Execute implements the go-flags Commander interface for IngestCommand.
func (c *IngestCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	c.applyOverrides(cfg)

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closer.Close()

	a, err := app.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := a.Maintainer.RunIfDue(ctx); err != nil {
		logger.Warn("startup maintenance failed", "error", err)
	}

	fmt.Fprintf(os.Stderr, "dwell daemon listening on %s\n", cfg.ListenAddr())
	return daemon.New(a, c.version).Run(ctx, cfg.ListenAddr())
}

func (c *IngestCommand) applyOverrides(cfg *config.Config) {
	if c.Port > 0 {
		cfg.Daemon.Port = c.Port
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if c.globals != nil && c.globals.Verbose {
		cfg.Logging.Level = "debug"
	}
}
