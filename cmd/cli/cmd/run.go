package cmd

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"promptplane/internal/errkind"
	"promptplane/internal/logger"
	"promptplane/internal/runner"
	"promptplane/internal/store"
	"promptplane/internal/transport"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch of prompts (or a single prompt) against the API",
	Long: `Run executes a batch file (CSV or JSONL) or a single --prompt against the
configured API, with bounded concurrency, per-model rate limits, retries and
crash-resumable checkpointing.

Successful results are written to --output; failures go to a sibling file
with a .failed suffix. A run with any failed task exits with code 1.

Example:
  promptctl run --input tasks.csv --output results.csv --max-inflight 8
  promptctl run --prompt "summarize this" --dry-run
  promptctl run --input tasks.csv --resume tasks.csv.checkpoint.json --only-failed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		input, _ := flags.GetString("input")
		prompt, _ := flags.GetString("prompt")
		output, _ := flags.GetString("output")
		dryRun, _ := flags.GetBool("dry-run")
		maxInflight, _ := flags.GetInt("max-inflight")
		checkpointInterval, _ := flags.GetInt("checkpoint-interval")
		maxRetries, _ := flags.GetInt("max-retries")
		retryDelay, _ := flags.GetDuration("retry-delay")
		timeout, _ := flags.GetDuration("timeout")
		resume, _ := flags.GetString("resume")
		onlyFailed, _ := flags.GetBool("only-failed")
		noPool, _ := flags.GetBool("no-pool")
		batchSize, _ := flags.GetInt("batch-size")
		metricsAddr, _ := flags.GetString("metrics-addr")
		priority, _ := flags.GetBool("priority")

		if input == "" && prompt == "" {
			return errkind.New(errkind.Validation, "either --input or --prompt is required")
		}
		if onlyFailed && resume == "" {
			return errkind.New(errkind.Validation, "--only-failed requires --resume")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var tr transport.Transport
		if dryRun {
			tr = transport.NewDryRun()
		} else {
			if cfg.APIKey == "" {
				return errkind.New(errkind.Config, "missing API credential for a live run")
			}
			tr = transport.NewClient(cfg.BaseURL, cfg.APIKey)
		}

		ledger, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer ledger.Close()

		r := runner.New(ledger, tr, logger.New())
		outcome, err := r.Run(cmd.Context(), runner.Options{
			Input:              input,
			Prompt:             prompt,
			Output:             output,
			DryRun:             dryRun,
			MaxInflight:        maxInflight,
			CheckpointInterval: checkpointInterval,
			MaxRetries:         maxRetries,
			RetryDelay:         retryDelay,
			Timeout:            timeout,
			Resume:             resume,
			OnlyFailed:         onlyFailed,
			NoPool:             noPool,
			BatchSize:          batchSize,
			MetricsAddr:        metricsAddr,
			EnablePriority:     priority,
			Model:              cfg.Model,
			Temperature:        cfg.Temperature,
			MaxTokens:          cfg.MaxTokens,
		})
		if outcome != nil {
			printOutcome(cmd, prompt != "", outcome)
			appendRunLog(cmd, ledger, dryRun, outcome)
		}
		return err
	},
}

// appendRunLog records the run summary on the service-log stream; failures
// here never fail the run itself.
func appendRunLog(cmd *cobra.Command, ledger store.LogStore, dryRun bool, outcome *runner.Outcome) {
	level := "info"
	if outcome.Failed > 0 || outcome.Abandoned > 0 {
		level = "warn"
	}
	meta, _ := json.Marshal(map[string]any{
		"batch_id":    outcome.BatchID,
		"succeeded":   outcome.Succeeded,
		"failed":      outcome.Failed,
		"abandoned":   outcome.Abandoned,
		"skipped":     outcome.Skipped,
		"duration_ms": outcome.Duration.Milliseconds(),
		"dry_run":     dryRun,
	})
	if err := ledger.AppendServiceLog(context.WithoutCancel(cmd.Context()), level, "run finished", meta); err != nil {
		cmd.PrintErrf("warning: failed to record run in service log: %v\n", err)
	}
}

func printOutcome(cmd *cobra.Command, promptMode bool, outcome *runner.Outcome) {
	// Prompt mode prints the response itself; batch mode prints a summary.
	if promptMode {
		for _, rec := range outcome.Results {
			if rec.Success {
				cmd.Println(rec.Response)
			} else {
				cmd.Printf("%s✗%s %s\n", colorRed, colorReset, rec.Error)
			}
		}
		return
	}

	icon := colorGreen + "✓" + colorReset
	if outcome.Failed > 0 || outcome.Abandoned > 0 {
		icon = colorRed + "✗" + colorReset
	}
	cmd.Printf("%s %sRun %s%s\n", icon, colorBold, outcome.BatchID, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sSucceeded:%s  %d\n", colorDim, colorReset, outcome.Succeeded)
	cmd.Printf("%sFailed:%s     %d\n", colorDim, colorReset, outcome.Failed)
	if outcome.Abandoned > 0 {
		cmd.Printf("%sAbandoned:%s  %d\n", colorDim, colorReset, outcome.Abandoned)
	}
	if outcome.Skipped > 0 {
		cmd.Printf("%sSkipped:%s    %d (already terminal in checkpoint)\n", colorDim, colorReset, outcome.Skipped)
	}
	cmd.Printf("%sDuration:%s   %s\n", colorDim, colorReset, formatDuration(outcome.Duration))
	if outcome.OutputPath != "" {
		cmd.Printf("%sOutput:%s     %s\n", colorDim, colorReset, outcome.OutputPath)
	}
	if outcome.FailedOutputPath != "" {
		cmd.Printf("%sFailures:%s   %s\n", colorDim, colorReset, outcome.FailedOutputPath)
	}
}

func init() {
	flags := runCmd.Flags()
	flags.StringP("input", "i", "", "batch file to run (.csv, .jsonl or .ndjson)")
	flags.StringP("prompt", "p", "", "single prompt to run instead of a batch file")
	flags.StringP("output", "o", "", "file for successful results (format by extension)")
	flags.Bool("dry-run", false, "deterministic local responses, no API calls")
	flags.Int("max-inflight", 4, "maximum concurrent API calls")
	flags.Int("checkpoint-interval", 10, "persist the checkpoint every N completed tasks")
	flags.Int("max-retries", 3, "retries per task for retryable failures")
	flags.Duration("retry-delay", time.Second, "delay before a retry attempt")
	flags.Duration("timeout", 60*time.Second, "per-task execution timeout")
	flags.String("resume", "", "checkpoint file to resume from")
	flags.Bool("only-failed", false, "reprocess only tasks the checkpoint marks failed")
	flags.Bool("no-pool", false, "sequential fixed-size batches instead of the worker pool")
	flags.Int("batch-size", 10, "chunk size in --no-pool mode")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	flags.Bool("priority", false, "dispatch cheaper tasks first")

	rootCmd.AddCommand(runCmd)
}
