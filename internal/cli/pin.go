package cli

import (
	"github.com/spf13/cobra"

	"github.com/lcrostarosa/safecheck/internal/cli/runner"
)

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Manage the check-in PIN",
}

var pinSetCmd = &cobra.Command{
	Use:   "set <pin>",
	Short: "Set or change the 4-6 digit check-in PIN",
	Example: `  safecheck pin set 4821
  safecheck pin set 135790 --current 4821`,
	Args: cobra.ExactArgs(1),
	RunE: runners.Remote().Wrap(runPinSet),
}

var pinRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the check-in PIN",
	RunE:  runners.Remote().Wrap(runPinRemove),
}

var pinStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a PIN is set",
	RunE:  runners.Remote().Wrap(runPinStatus),
}

func init() {
	pinSetCmd.Flags().String("current", "", "Current PIN, required to change an existing one")
	pinRemoveCmd.Flags().String("current", "", "Current PIN (required)")

	pinCmd.AddCommand(pinSetCmd, pinRemoveCmd, pinStatusCmd)
	rootCmd.AddCommand(pinCmd)
}

func runPinSet(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	current := flags.String("current")
	if err := flags.Err(); err != nil {
		return err
	}
	if _, err := ctx.Client().SetPin(ctx.Context(), current, args[0]); err != nil {
		return err
	}
	PrintSuccess("PIN saved")
	return nil
}

func runPinRemove(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	current := flags.String("current")
	if err := flags.Err(); err != nil {
		return err
	}
	if _, err := ctx.Client().RemovePin(ctx.Context(), current); err != nil {
		return err
	}
	PrintSuccess("PIN removed")
	return nil
}

func runPinStatus(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	status, err := ctx.Client().PinStatus(ctx.Context())
	if err != nil {
		return err
	}
	if status.HasPin {
		PrintInfo("PIN: set")
	} else {
		PrintWarning("No PIN set - check-ins are impossible until you run 'safecheck pin set'")
	}
	return nil
}
