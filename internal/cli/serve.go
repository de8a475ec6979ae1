package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lcrostarosa/safecheck/internal/cli/runner"
	"github.com/lcrostarosa/safecheck/internal/daemon"
	"github.com/lcrostarosa/safecheck/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the SafeCheck daemon",
	Long: `Start the daemon that runs the check-in timer, dispatches alerts and
shares location. A timer that was running when the daemon stopped is
restored; one whose deadline passed in the meantime escalates at once.`,
	Example: `  # Start on the configured address (default :8090)
  safecheck serve

  # Override the listen address for this session
  safecheck serve --addr 127.0.0.1:9000`,
	RunE: runners.Profile().Wrap(runServe),
}

func init() {
	serveCmd.Flags().StringP("addr", "a", "", "Listen address (default: listen_addr or SAFECHECK_LISTEN_ADDR)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	addr := flags.String("addr")
	if err := flags.Err(); err != nil {
		return err
	}
	if addr != "" {
		ctx.Config.ListenAddr = addr
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	sigCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := daemon.New(sigCtx, ctx.Config)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logging.Warn("Shutdown incomplete", logging.Err(err))
		}
	}()

	PrintHeader("🛡  SafeCheck")
	PrintInfo("User:     %s (%s)", ctx.Config.User.DisplayName, ctx.Config.User.ID)
	PrintInfo("Contacts: %d", len(ctx.Config.Contacts))
	PrintInfo("API:      %s", ctx.Config.ServerBaseURL())
	PrintInfo("Feed:     %s/feed", ctx.Config.ServerBaseURL())
	PrintInfo("")
	PrintInfo("Press Ctrl+C to stop")

	return app.Run(sigCtx)
}
