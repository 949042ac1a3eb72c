package cmd

import (
	"github.com/spf13/cobra"

	"promptplane/internal/batchio"
	"promptplane/internal/errkind"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a batch file without running it",
	Long: `Validate parses --input with the same loader the run command uses and
reports format problems (missing columns, duplicate ids, malformed rows)
with line numbers. Nothing is executed and nothing is recorded.

Example:
  promptctl validate --input tasks.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		if input == "" {
			return errkind.New(errkind.Validation, "--input is required")
		}

		batch, err := batchio.Load(input)
		if err != nil {
			return err
		}

		models := make(map[string]int)
		for _, task := range batch.Tasks {
			models[task.Model]++
		}

		cmd.Printf("%s✓%s %s is valid (%s)\n", colorGreen, colorReset, input, batch.Format)
		cmd.Printf("%sTasks:%s  %d\n", colorDim, colorReset, len(batch.Tasks))
		for model, n := range models {
			if model == "" {
				model = "(run default)"
			}
			cmd.Printf("%sModel:%s  %s ×%d\n", colorDim, colorReset, model, n)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringP("input", "i", "", "batch file to validate (required)")
	rootCmd.AddCommand(validateCmd)
}
