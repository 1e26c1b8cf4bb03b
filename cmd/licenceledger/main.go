package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mlewis7127/licenceledger/adapter/cli"
	"github.com/mlewis7127/licenceledger/adapter/cli/licence"
	"github.com/mlewis7127/licenceledger/internal/app"
	"github.com/mlewis7127/licenceledger/pkg/config"
	"github.com/mlewis7127/licenceledger/pkg/observability"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Cancelled on SIGINT/SIGTERM so serve can shut down gracefully
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		return 1
	}

	logger := observability.NewLogger(observability.LogConfigFor(cfg.AppEnv, cfg.LogLevel, cfg.LogFormat, cli.Version))
	cli.SetLogger(logger)

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		if !cfg.IsDevelopment() {
			logger.Error("failed to initialize container", "error", err)
			return 1
		}
		// In development the CLI still runs; commands that need the ledger
		// report it as unavailable.
		logger.Warn("failed to initialize container, running in limited mode", "error", err)
	} else {
		defer container.Close()
		cli.SetApp(cli.NewApp(container))
	}

	cli.AddCommand(licence.Cmd)

	if err := cli.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
