package cli

import (
	"github.com/spf13/cobra"

	"github.com/lcrostarosa/safecheck/internal/cli/runner"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Read and acknowledge emergency alerts",
}

var alertsPendingCmd = &cobra.Command{
	Use:   "pending <contact-id>",
	Short: "List alerts waiting for a contact",
	Args:  cobra.ExactArgs(1),
	RunE:  runners.Remote().Wrap(runAlertsPending),
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <contact-id> <alert-id>",
	Short: "Acknowledge an alert as the contact who received it",
	Args:  cobra.ExactArgs(2),
	RunE:  runners.Remote().Wrap(runAlertsAck),
}

var alertsHistoryCmd = &cobra.Command{
	Use:   "history [owner-id]",
	Short: "Show sent and received alerts (default: your own)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runners.Remote().Wrap(runAlertsHistory),
}

func init() {
	alertsCmd.AddCommand(alertsPendingCmd, alertsAckCmd, alertsHistoryCmd)
	rootCmd.AddCommand(alertsCmd)
}

func runAlertsPending(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	alerts, err := ctx.Client().PendingAlerts(ctx.Context(), args[0])
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		PrintInfo("No pending alerts for %s.", args[0])
		return nil
	}

	PrintHeader("🚨 Pending Alerts")
	for _, a := range alerts {
		PrintInfo("")
		PrintInfo("ID:       %s", a.ID)
		PrintInfo("  From:   %s (%s)", a.SenderName, a.SenderID)
		PrintInfo("  Where:  %s", a.LocationName)
		PrintInfo("  At:     %.6f, %.6f", a.Latitude, a.Longitude)
		PrintInfo("  When:   %s", formatTimestamp(a.Timestamp))
	}
	PrintInfo("")
	PrintInfo("To acknowledge: safecheck alerts ack %s <alert-id>", args[0])
	return nil
}

func runAlertsAck(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	if err := ctx.Client().Acknowledge(ctx.Context(), args[0], args[1]); err != nil {
		return err
	}
	PrintSuccess("Alert %s acknowledged", args[1])
	return nil
}

func runAlertsHistory(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	owner := ""
	if len(args) == 1 {
		owner = args[0]
	}
	entries, err := ctx.Client().ListHistory(ctx.Context(), owner)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		PrintInfo("No alert history.")
		return nil
	}

	PrintHeader("📜 Alert History")
	for _, e := range entries {
		peer := e.ReceiverName
		if e.Type == "RECEIVED" {
			peer = e.SenderName
		}
		PrintInfo("%s  %-8s  %-12s  %-20s  %s",
			formatTimestamp(e.Timestamp), e.Type, e.Status, peer, e.LocationName)
	}
	return nil
}
