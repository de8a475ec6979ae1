package runner

import (
	"github.com/spf13/cobra"

	"github.com/lcrostarosa/safecheck/internal/config"
)

// ConfigProvider is a function that returns the current config and any load error.
// This allows the runner to be decoupled from the global config state.
type ConfigProvider func() (*config.Config, error)

// CommandRunner chains interceptors for CLI command execution.
// It mirrors Connect-RPC's interceptor pattern.
type CommandRunner struct {
	interceptors   []Interceptor
	configProvider ConfigProvider
	clientFactory  ClientFactory
}

// NewRunner creates a new CommandRunner with the given config provider.
func NewRunner(provider ConfigProvider) *CommandRunner {
	return &CommandRunner{
		configProvider: provider,
	}
}

// Use adds interceptors to the chain. Returns self for chaining.
func (r *CommandRunner) Use(interceptors ...Interceptor) *CommandRunner {
	r.interceptors = append(r.interceptors, interceptors...)
	return r
}

// WithClientFactory overrides how commands reach the daemon.
func (r *CommandRunner) WithClientFactory(f ClientFactory) *CommandRunner {
	r.clientFactory = f
	return r
}

// Clone creates a copy of this runner with its own interceptor chain.
// The config provider is shared.
func (r *CommandRunner) Clone() *CommandRunner {
	cloned := &CommandRunner{
		interceptors:   make([]Interceptor, len(r.interceptors)),
		configProvider: r.configProvider,
		clientFactory:  r.clientFactory,
	}
	copy(cloned.interceptors, r.interceptors)
	return cloned
}

// CommandFunc is the signature for command handler functions.
type CommandFunc func(ctx *CommandContext, cmd *cobra.Command, args []string) error

// Wrap creates a cobra.RunE function with the interceptor chain applied.
func (r *CommandRunner) Wrap(fn CommandFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, cfgErr := r.configProvider()
		ctx := NewContext(cfg, cfgErr)
		if r.clientFactory != nil {
			ctx.newClient = r.clientFactory
		}

		chain := func() error { return fn(ctx, cmd, args) }

		// Wrap in reverse order so first interceptor runs first
		for i := len(r.interceptors) - 1; i >= 0; i-- {
			interceptor := r.interceptors[i]
			next := chain
			chain = func() error { return interceptor(ctx, cmd, args, next) }
		}

		return chain()
	}
}

// Builder helps construct runners with common interceptor patterns.
type Builder struct {
	provider ConfigProvider
	clients  ClientFactory
}

// NewBuilder creates a new runner builder with the given config provider.
func NewBuilder(provider ConfigProvider) *Builder {
	return &Builder{provider: provider}
}

// WithClientFactory sets the client factory of every runner built afterwards.
func (b *Builder) WithClientFactory(f ClientFactory) *Builder {
	b.clients = f
	return b
}

func (b *Builder) runner() *CommandRunner {
	return NewRunner(b.provider).WithClientFactory(b.clients)
}

// Base creates a runner with just logging.
func (b *Builder) Base() *CommandRunner {
	return b.runner().Use(WithLogging())
}

// Config creates a runner that requires config to be loaded.
func (b *Builder) Config() *CommandRunner {
	return b.runner().Use(
		WithLogging(),
		RequireConfig(),
	)
}

// Profile creates a runner that requires a configured user.
func (b *Builder) Profile() *CommandRunner {
	return b.runner().Use(
		WithLogging(),
		RequireProfile(),
	)
}

// Remote creates a runner for commands that talk to a running daemon.
func (b *Builder) Remote() *CommandRunner {
	return b.runner().Use(
		WithLogging(),
		RequireConfig(),
		WithTimeout(DefaultTimeout),
	)
}

// Uninitialized creates a runner that can run without initialization.
func (b *Builder) Uninitialized() *CommandRunner {
	return b.runner().Use(
		WithLogging(),
		AllowUninitialized(),
	)
}
