package cmd

import (
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate execution statistics from the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd, func(ledger ledgerStore) error {
			metrics, err := ledger.GetTaskMetrics(cmd.Context())
			if err != nil {
				return err
			}

			cmd.Printf("%sExecution statistics%s\n", colorBold, colorReset)
			cmd.Println("──────────────────────────────")
			cmd.Printf("%sTotal:%s       %d\n", colorDim, colorReset, metrics.TotalTasks)
			cmd.Printf("%sSuccessful:%s  %s%d%s\n", colorDim, colorReset, colorGreen, metrics.SuccessfulTasks, colorReset)
			cmd.Printf("%sFailed:%s      %s%d%s\n", colorDim, colorReset, colorRed, metrics.FailedTasks, colorReset)
			cmd.Printf("%sDry runs:%s    %d\n", colorDim, colorReset, metrics.DryRunTasks)
			if metrics.LastExecution != nil {
				cmd.Printf("%sLast run:%s    %s\n", colorDim, colorReset, formatTimeWithRelative(metrics.LastExecution))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
