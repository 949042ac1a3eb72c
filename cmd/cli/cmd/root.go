package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"promptplane/internal/config"
	"promptplane/internal/errkind"
	"promptplane/internal/store"
	"promptplane/internal/store/sqlite"
)

// ledgerStore is the slice of the ledger the CLI commands work against.
type ledgerStore interface {
	store.ExecutionStore
	store.ScheduleStore
	store.LogStore
}

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "promptctl",
	Short: "Promptctl is a command line tool for running prompt batches against LLM APIs",
	Long: `promptctl drives large batches of LLM API calls with bounded concurrency,
per-model rate limits and crash-resumable checkpointing.

Every execution is recorded in a local ledger database, so runs can be
audited and resumed after a crash or interrupt.

Common workflows:

  Run a batch file:
    promptctl run --input tasks.csv --output results.csv

  Preview a batch without spending tokens:
    promptctl run --input tasks.jsonl --output results.jsonl --dry-run

  Resume an interrupted run:
    promptctl run --input tasks.csv --output results.csv --resume tasks.csv.checkpoint.json

  Retry only the failures of a previous run:
    promptctl run --input tasks.csv --resume tasks.csv.checkpoint.json --only-failed

  Validate a batch file without running it:
    promptctl validate --input tasks.csv

  Manage recurring runs:
    promptctl schedule add --name nightly --cron "0 2 * * *" --input tasks.csv

Configuration:
  Set credentials and defaults via environment variables or a config file:
    PROMPTPLANE_API_KEY       API credential (required unless --dry-run)
    PROMPTPLANE_BASE_URL      API endpoint (default: https://api.openai.com)
    PROMPTPLANE_MODEL         default model (default: gpt-4o-mini)
    PROMPTPLANE_DB            ledger database path (default: promptplane.db)`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and prints classified errors. The returned
// error maps to the process exit code via errkind.ExitCode.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return nil
	}

	// Partial failures already printed a run summary; the exit code says
	// the rest.
	if errors.Is(err, errkind.ErrPartialFailure) {
		return err
	}

	out := rootCmd.ErrOrStderr()
	var kerr *errkind.Error
	if errors.As(err, &kerr) {
		fmt.Fprintf(out, "Error (%s): %s\n", kerr.Kind, kerr.Message)
		if kerr.Err != nil {
			fmt.Fprintf(out, "  cause: %v\n", kerr.Err)
		}
		if kerr.Action != "" {
			fmt.Fprintf(out, "  try:   %s\n", kerr.Action)
		}
		if kerr.Docs != "" {
			fmt.Fprintf(out, "  docs:  %s\n", kerr.Docs)
		}
	} else {
		fmt.Fprintf(out, "Error: %v\n", err)
	}
	return err
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, errkind.Wrap(errkind.Config, "invalid configuration", err)
	}
	return cfg, nil
}

// openLedger opens the execution ledger database. The caller owns the
// returned handle and must close it.
func openLedger(cfg *config.Config) (*sqlite.Store, error) {
	st, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, errkind.Wrap(errkind.Config, fmt.Sprintf("failed to open ledger database %s", cfg.DBPath), err)
	}
	return st, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, optional; env vars win)")
}
