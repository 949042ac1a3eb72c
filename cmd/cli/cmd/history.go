package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"promptplane/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past task executions from the ledger",
	Long: `History lists task executions recorded in the ledger database, newest
first. Every run records its tasks here, including dry runs.

Example:
  promptctl history --limit 20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		return withLedger(cmd, func(ledger ledgerStore) error {
			executions, err := ledger.GetTaskExecutions(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if len(executions) == 0 {
				cmd.Println("No executions recorded.")
				return nil
			}
			for _, exec := range executions {
				printExecution(cmd, exec)
			}
			return nil
		})
	},
}

func printExecution(cmd *cobra.Command, exec store.TaskExecution) {
	cmd.Printf("%s %s%s%s\n", executionIcon(exec.Status), colorBold, exec.ID, colorReset)
	cmd.Printf("  %sStatus:%s   %s\n", colorDim, colorReset, colorizeStatus(exec.Status))
	cmd.Printf("  %sCreated:%s  %s\n", colorDim, colorReset, formatTimeWithRelative(&exec.CreatedAt))
	if exec.CompletedAt != nil {
		duration := exec.CompletedAt.Sub(exec.CreatedAt)
		cmd.Printf("  %sFinished:%s %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(exec.CompletedAt),
			colorCyan, formatDuration(duration), colorReset)
	}
	if exec.Error != nil {
		cmd.Printf("  %sError:%s    %s%s%s\n", colorDim, colorReset, colorRed, *exec.Error, colorReset)
	}
	if exec.IsDryRun {
		cmd.Printf("  %sMode:%s     dry-run\n", colorDim, colorReset)
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

const timeFormat = "Mon, 02 Jan 2006 15:04:05 MST"

func executionIcon(status store.ExecutionStatus) string {
	switch status {
	case store.ExecutionStatusCompleted:
		return colorGreen + "✓" + colorReset
	case store.ExecutionStatusFailed:
		return colorRed + "✗" + colorReset
	case store.ExecutionStatusRunning:
		return colorYellow + "⏳" + colorReset
	case store.ExecutionStatusPending:
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status store.ExecutionStatus) string {
	icon := executionIcon(status)
	switch status {
	case store.ExecutionStatusCompleted:
		return icon + " " + colorGreen + string(status) + colorReset
	case store.ExecutionStatusFailed:
		return icon + " " + colorRed + string(status) + colorReset
	case store.ExecutionStatusRunning:
		return icon + " " + colorYellow + string(status) + colorReset
	case store.ExecutionStatusPending:
		return icon + " " + colorCyan + string(status) + colorReset
	default:
		return string(status)
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format(timeFormat), colorDim, relativeTime(*t), colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of executions to show")
	historyCmd.Flags().Int("offset", 0, "number of executions to skip")
	rootCmd.AddCommand(historyCmd)
}
