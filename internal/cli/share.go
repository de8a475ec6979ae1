package cli

import (
	"github.com/spf13/cobra"

	"github.com/lcrostarosa/safecheck/internal/cli/runner"
)

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Share your live location",
}

var shareStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start sharing, optionally after a delay and for a bounded time",
	Example: `  # Share now until stopped
  safecheck share start

  # Share for an hour, starting in 5 minutes
  safecheck share start --delay 5m --for 1h`,
	RunE: runners.Remote().Wrap(runShareStart),
}

var shareStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop sharing or cancel a pending countdown",
	RunE:  runners.Remote().Wrap(runShareStop),
}

var shareStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show location sharing state",
	RunE:  runners.Remote().Wrap(runShareStatus),
}

func init() {
	f := shareStartCmd.Flags()
	f.Duration("delay", 0, "Countdown before sharing starts")
	f.Duration("for", 0, "How long to share (0 shares until stopped)")

	shareCmd.AddCommand(shareStartCmd, shareStopCmd, shareStatusCmd)
	rootCmd.AddCommand(shareCmd)
}

func runShareStart(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	delay := flags.Duration("delay")
	duration := flags.Duration("for")
	if err := flags.Err(); err != nil {
		return err
	}

	status, err := ctx.Client().StartSharing(ctx.Context(), delay, duration)
	if err != nil {
		return err
	}
	if delay > 0 {
		PrintSuccess("Sharing starts in %s", FormatRemaining(delay))
	} else {
		PrintSuccess("Sharing your location")
	}
	printSharingStatus(status)
	return nil
}

func runShareStop(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	if _, err := ctx.Client().StopSharing(ctx.Context()); err != nil {
		return err
	}
	PrintSuccess("Location sharing stopped")
	return nil
}

func runShareStatus(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	status, err := ctx.Client().Sharing(ctx.Context())
	if err != nil {
		return err
	}
	printSharingStatus(status)
	return nil
}
