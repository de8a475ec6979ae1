// Package cli implements the safecheck command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lcrostarosa/safecheck/internal/cli/runner"
	"github.com/lcrostarosa/safecheck/internal/config"
	"github.com/lcrostarosa/safecheck/internal/logging"
	"github.com/lcrostarosa/safecheck/internal/rpc"
)

var (
	// Version is set at build time
	Version = "0.1.0"

	// App state
	cfg    *config.Config
	cfgErr error

	// Global flags
	configDir string
	logLevel  string
	serverURL string
	apiKey    string

	runners = runner.NewBuilder(func() (*config.Config, error) { return cfg, cfgErr }).
		WithClientFactory(newClient)
)

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "safecheck",
	Short: "Check-in timer that alerts your emergency contacts",
	Long: `SafeCheck runs a countdown you must check in on with your PIN.
If the countdown runs out, every emergency contact is alerted with your
last known location. It can also share your live location on demand.

Run 'safecheck serve' to start the daemon; the other commands talk to it.`,
	SilenceUsage: true,
}

// Execute runs the CLI
func Execute() {
	defer func() { _ = logging.Sync() }()
	if err := rootCmd.Execute(); err != nil {
		PrintError("%v", err)
		os.Exit(1)
	}
}

// SetVersion sets the version string
func SetVersion(v string) {
	Version = v
	rootCmd.Version = v
}

func init() {
	cobra.OnInitialize(initLogging, initConfig)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SilenceErrors = true

	f := rootCmd.PersistentFlags()
	f.StringVar(&configDir, "config-dir", "", "Config directory (default: ~/.safecheck)")
	f.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&serverURL, "server", "", "Daemon URL (default: derived from listen_addr)")
	f.StringVar(&apiKey, "api-key", "", "API key for the daemon")
}

func initLogging() {
	level := logLevel
	if level == "" {
		level = os.Getenv("SAFECHECK_LOG_LEVEL")
	}
	if level == "" {
		level = "warn"
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	if err := logging.Init(lc); err != nil {
		PrintWarning("failed to configure logging: %v", err)
	}
}

func initConfig() {
	cfg, cfgErr = config.Load(configDir)
}

// newClient applies --server and --api-key without writing them to the
// config, which commands like 'contacts add' save back to disk.
func newClient(c *config.Config) *rpc.Client {
	remote := *c
	if serverURL != "" {
		remote.ServerURL = serverURL
	}
	if apiKey != "" {
		remote.APIKey = apiKey
	}
	return runner.DefaultClientFactory(&remote)
}
