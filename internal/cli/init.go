package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lcrostarosa/safecheck/internal/cli/runner"
	"github.com/lcrostarosa/safecheck/internal/config"
	"github.com/lcrostarosa/safecheck/internal/directory"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the configuration for a user",
	Long: `Create ~/.safecheck/config.json for the given user.

Add emergency contacts with 'safecheck contacts add' and set a PIN with
'safecheck pin set' once the daemon is running.`,
	Example: `  safecheck init --id alice --name "Alice Smith"
  safecheck init --id alice --name Alice --storage redis --redis localhost:6379`,
	RunE: runners.Uninitialized().Wrap(runInit),
}

func init() {
	f := initCmd.Flags()
	f.String("id", "", "User id (required)")
	f.String("name", "", "Display name shown to contacts (required)")
	f.String("storage", config.StorageFile, "Timer and PIN storage: file, redis or memory")
	f.String("redis", "", "Redis address for the redis backends")
	f.String("listen", "", "Daemon listen address (default :8090)")
	f.Bool("force", false, "Overwrite an existing configuration")
	rootCmd.AddCommand(initCmd)
}

func runInit(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	id := flags.String("id")
	name := flags.String("name")
	storage := flags.String("storage")
	redisAddr := flags.String("redis")
	listen := flags.String("listen")
	force := flags.Bool("force")
	if err := flags.Err(); err != nil {
		return err
	}

	if id == "" || name == "" {
		return errors.New("--id and --name are required")
	}
	switch storage {
	case config.StorageFile, config.StorageRedis, config.StorageMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", storage)
	}
	if storage == config.StorageRedis && redisAddr == "" {
		return errors.New("--redis is required with --storage redis")
	}
	if config.Exists(configDir) && !force {
		return errors.New("already initialized - pass --force to overwrite")
	}

	c := config.Default(configDir)
	c.Storage.Backend = storage
	c.Redis.Addr = redisAddr
	if listen != "" {
		c.ListenAddr = listen
	}
	if err := c.SetUser(directory.Profile{ID: id, DisplayName: name}); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	PrintSuccess("Initialized SafeCheck for %s (%s)", name, id)
	PrintInfo("Config: %s", c.ConfigDir)
	PrintInfo("")
	PrintInfo("Next steps:")
	PrintInfo("  safecheck contacts add <id> --name <name>")
	PrintInfo("  safecheck serve")
	PrintInfo("  safecheck pin set <pin>")
	return nil
}
