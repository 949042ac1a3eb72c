package cmd

import (
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the service log stream",
	Long: `Logs prints the append-only service log, newest first. Every run appends
a summary entry here, independent of the per-task execution records.

Example:
  promptctl logs --limit 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		return withLedger(cmd, func(ledger ledgerStore) error {
			entries, err := ledger.GetServiceLogs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				cmd.Println("No log entries.")
				return nil
			}
			for _, entry := range entries {
				level := entry.Level
				switch level {
				case "warn", "warning":
					level = colorYellow + level + colorReset
				case "error":
					level = colorRed + level + colorReset
				}
				cmd.Printf("%s [%s] %s\n", entry.Timestamp.Format(timeFormat), level, entry.Message)
				if len(entry.Metadata) > 0 {
					cmd.Printf("  %s%s%s\n", colorDim, string(entry.Metadata), colorReset)
				}
			}
			return nil
		})
	},
}

func init() {
	logsCmd.Flags().Int("limit", 50, "maximum number of entries to show")
	rootCmd.AddCommand(logsCmd)
}
