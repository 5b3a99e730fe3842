package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"range-export/internal/app"
	"range-export/internal/logging"
)

// main is the entry point for range-export. An interrupt cancels the
// running query or conversion; the connection is still closed.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := app.NewAppRunner()
	err := runner.RunContext(ctx, os.Args[1:])
	if err != nil {
		if errors.Is(err, app.ErrUsage) || errors.Is(err, app.ErrConfigNotFound) {
			fmt.Fprintln(os.Stderr, "")
			runner.Usage(os.Stderr)
		}

		// Failures are always reported, even with --loglevel=none.
		if logging.GetLevel() < logging.Error {
			logging.SetLevel(logging.Error)
		}
		logging.Logf(logging.Error, "Application execution failed: %v", err)
		logging.Sync()
		stop()
		os.Exit(1)
	}

	logging.Logf(logging.Info, "Range export completed successfully.")
	logging.Sync()
}
