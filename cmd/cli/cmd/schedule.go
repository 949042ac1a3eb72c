package cmd

import (
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"promptplane/internal/errkind"
	"promptplane/internal/schedule"
	"promptplane/internal/store"
	"promptplane/internal/store/sqlite"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring run definitions",
	Long: `Schedule manages recurring run definitions stored in the ledger.
Definitions are validated (cron syntax, required fields) before they are
persisted. Executing them on time is left to an external scheduler.

Example:
  promptctl schedule add --name nightly --cron "0 2 * * *" --input tasks.csv --output results.csv
  promptctl schedule next "0 2 * * *" --count 3`,
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a recurring run definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		cron, _ := flags.GetString("cron")
		input, _ := flags.GetString("input")
		output, _ := flags.GetString("output")
		dryRun, _ := flags.GetBool("dry-run")

		task := &store.ScheduledTask{
			Name:       name,
			Schedule:   cron,
			InputFile:  input,
			OutputFile: output,
			IsDryRun:   dryRun,
			IsActive:   true,
		}
		if err := schedule.Validate(task); err != nil {
			return err
		}
		if next, err := schedule.NextTimes(cron, 1); err == nil && len(next) == 1 {
			task.NextRun = &next[0]
		}

		return withLedger(cmd, func(ledger ledgerStore) error {
			id, err := ledger.SaveScheduledTask(cmd.Context(), task)
			if err != nil {
				return err
			}
			cmd.Printf("%s✓%s Schedule created!\nID: %s\nName: %s\n", colorGreen, colorReset, id, name)
			if task.NextRun != nil {
				cmd.Printf("Next run: %s\n", task.NextRun.Format(timeFormat))
			}
			return nil
		})
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active recurring run definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd, func(ledger ledgerStore) error {
			tasks, err := ledger.GetScheduledTasks(cmd.Context())
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				cmd.Println("No active schedules.")
				return nil
			}
			for _, task := range tasks {
				cmd.Printf("%s %s%s%s\n", colorGreen+"●"+colorReset, colorBold, task.Name, colorReset)
				cmd.Printf("  %sID:%s     %s\n", colorDim, colorReset, task.ID)
				cmd.Printf("  %sCron:%s   %s\n", colorDim, colorReset, task.Schedule)
				cmd.Printf("  %sInput:%s  %s\n", colorDim, colorReset, task.InputFile)
				if task.NextRun != nil {
					cmd.Printf("  %sNext:%s   %s\n", colorDim, colorReset, task.NextRun.Format(timeFormat))
				}
			}
			return nil
		})
	},
}

var scheduleUpdateCmd = &cobra.Command{
	Use:   "update [schedule_id]",
	Short: "Update fields of a recurring run definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		var update store.ScheduledTaskUpdate
		if flags.Changed("name") {
			name, _ := flags.GetString("name")
			update.Name = &name
		}
		if flags.Changed("cron") {
			cron, _ := flags.GetString("cron")
			if err := schedule.ValidateExpr(cron); err != nil {
				return err
			}
			update.Schedule = &cron
			if next, err := schedule.NextTimes(cron, 1); err == nil && len(next) == 1 {
				update.NextRun = &next[0]
			}
		}
		if flags.Changed("input") {
			input, _ := flags.GetString("input")
			update.InputFile = &input
		}
		if flags.Changed("output") {
			output, _ := flags.GetString("output")
			update.OutputFile = &output
		}
		if flags.Changed("dry-run") {
			dryRun, _ := flags.GetBool("dry-run")
			update.IsDryRun = &dryRun
		}

		return withLedger(cmd, func(ledger ledgerStore) error {
			if err := ledger.UpdateScheduledTask(cmd.Context(), args[0], update); err != nil {
				return scheduleStoreErr(err, args[0])
			}
			cmd.Printf("%s✓%s Schedule %s updated\n", colorGreen, colorReset, args[0])
			return nil
		})
	},
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete [schedule_id]",
	Short: "Delete a recurring run definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd, func(ledger ledgerStore) error {
			if err := ledger.DeleteScheduledTask(cmd.Context(), args[0]); err != nil {
				return scheduleStoreErr(err, args[0])
			}
			cmd.Printf("%s✓%s Schedule %s deleted\n", colorGreen, colorReset, args[0])
			return nil
		})
	},
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable [schedule_id]",
	Short: "Enable a recurring run definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd, func(ledger ledgerStore) error {
			if err := ledger.EnableScheduledTask(cmd.Context(), args[0]); err != nil {
				return scheduleStoreErr(err, args[0])
			}
			cmd.Printf("%s✓%s Schedule %s enabled\n", colorGreen, colorReset, args[0])
			return nil
		})
	},
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable [schedule_id]",
	Short: "Disable a recurring run definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd, func(ledger ledgerStore) error {
			if err := ledger.DisableScheduledTask(cmd.Context(), args[0]); err != nil {
				return scheduleStoreErr(err, args[0])
			}
			cmd.Printf("%s✓%s Schedule %s disabled\n", colorGreen, colorReset, args[0])
			return nil
		})
	},
}

var scheduleNextCmd = &cobra.Command{
	Use:   "next [cron_expression]",
	Short: "Show the next fire times of a cron expression",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		times, err := schedule.NextTimes(args[0], count)
		if err != nil {
			return err
		}
		for i, t := range times {
			cmd.Printf("%2s. %s\n", strconv.Itoa(i+1), t.Format(timeFormat))
		}
		return nil
	},
}

func withLedger(cmd *cobra.Command, fn func(ledgerStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()
	return fn(ledger)
}

func scheduleStoreErr(err error, id string) error {
	if errors.Is(err, sqlite.ErrNotFound) {
		return errkind.Newf(errkind.Validation, "no schedule with id %s", id)
	}
	return err
}

func init() {
	addFlags := scheduleAddCmd.Flags()
	addFlags.StringP("name", "n", "", "name of the schedule (required)")
	addFlags.String("cron", "", "5-field cron expression (required)")
	addFlags.StringP("input", "i", "", "batch file to run (required)")
	addFlags.StringP("output", "o", "", "file for results")
	addFlags.Bool("dry-run", false, "run without API calls")

	updateFlags := scheduleUpdateCmd.Flags()
	updateFlags.StringP("name", "n", "", "new name")
	updateFlags.String("cron", "", "new cron expression")
	updateFlags.StringP("input", "i", "", "new batch file")
	updateFlags.StringP("output", "o", "", "new output file")
	updateFlags.Bool("dry-run", false, "toggle dry-run mode")

	scheduleNextCmd.Flags().Int("count", 5, "number of fire times to show")

	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleUpdateCmd,
		scheduleDeleteCmd, scheduleEnableCmd, scheduleDisableCmd, scheduleNextCmd)
	rootCmd.AddCommand(scheduleCmd)
}
