package runner

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/lcrostarosa/safecheck/internal/logging"
)

// DefaultTimeout bounds a single CLI round trip to the daemon.
const DefaultTimeout = 30 * time.Second

// Interceptor is a function that wraps command execution.
// It mirrors the Connect-RPC interceptor pattern for CLI commands.
type Interceptor func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error

// RequireConfig ensures the configuration is loaded before executing the command.
func RequireConfig() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		if ctx.ConfigErr != nil {
			return ctx.ConfigErr
		}
		if ctx.Config == nil {
			return ErrNotInitialized
		}
		return next()
	}
}

// RequireProfile ensures a user is configured.
// Implicitly requires config to be loaded.
func RequireProfile() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		if ctx.ConfigErr != nil {
			return ctx.ConfigErr
		}
		if ctx.Config == nil {
			return ErrNotInitialized
		}
		if !ctx.HasProfile() {
			return ErrNoProfile
		}
		return next()
	}
}

// WithTimeout bounds the command's context. The command's own context
// (cmd.Context) is the parent when cobra provides one.
func WithTimeout(d time.Duration) Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}
		var cancel context.CancelFunc
		ctx.ctx, cancel = context.WithTimeout(parent, d)
		defer cancel()
		return next()
	}
}

// WithLogging logs command execution, mirroring the RPC logging interceptor.
func WithLogging() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		logging.Debug("CLI command", logging.String("cmd", cmd.Name()))
		err := next()
		if err != nil {
			logging.Debug("CLI error", logging.String("cmd", cmd.Name()), logging.Err(err))
		}
		return err
	}
}

// AllowUninitialized marks that this command can run without initialization.
// This is a no-op interceptor that documents intent.
func AllowUninitialized() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		return next()
	}
}
