package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lcrostarosa/safecheck/internal/cli/runner"
)

var startCmd = &cobra.Command{
	Use:   "start <minutes>",
	Short: "Start a check-in timer",
	Long: `Start counting down. Check in with your PIN before it reaches zero or
every emergency contact is alerted with your last known location.
Starting a new timer replaces the running one.`,
	Example: `  safecheck start 30`,
	Args:    cobra.ExactArgs(1),
	RunE:    runners.Remote().Wrap(runStart),
}

var checkinCmd = &cobra.Command{
	Use:   "checkin <pin>",
	Short: "Check in and stop the running timer",
	Args:  cobra.ExactArgs(1),
	RunE:  runners.Remote().Wrap(runCheckin),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the check-in timer",
	RunE:  runners.Remote().Wrap(runStatus),
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Return the timer to idle after a check-in or an alert",
	RunE:  runners.Remote().Wrap(runReset),
}

func init() {
	rootCmd.AddCommand(startCmd, checkinCmd, statusCmd, resetCmd)
}

func runStart(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	minutes, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid minutes %q", args[0])
	}
	status, err := ctx.Client().StartTimer(ctx.Context(), minutes)
	if err != nil {
		return err
	}
	PrintSuccess("Timer started for %d minute(s)", minutes)
	printTimerStatus(status)
	return nil
}

func runCheckin(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	status, err := ctx.Client().CheckIn(ctx.Context(), args[0])
	if err != nil {
		return err
	}
	PrintSuccess("Checked in - your contacts will not be alerted")
	printTimerStatus(status)
	return nil
}

func runStatus(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	status, err := ctx.Client().Status(ctx.Context())
	if err != nil {
		return err
	}
	printTimerStatus(status)
	return nil
}

func runReset(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	status, err := ctx.Client().Reset(ctx.Context())
	if err != nil {
		return err
	}
	printTimerStatus(status)
	return nil
}
