// Package main is the entry point for the promptctl CLI.
// promptctl runs prompt batches against LLM APIs with bounded concurrency,
// rate limiting and crash-resumable checkpointing.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"promptplane/cmd/cli/cmd"
	"promptplane/internal/errkind"
)

func main() {
	// First interrupt cancels the run context so the orchestrator can
	// checkpoint; a second one kills the process the hard way.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		os.Exit(errkind.ExitCode(err))
	}
}
