package runner

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lcrostarosa/safecheck/internal/config"
	"github.com/lcrostarosa/safecheck/internal/rpc"
)

// ClientFactory builds the RPC client for a loaded config.
type ClientFactory func(cfg *config.Config) *rpc.Client

// DefaultClientFactory dials cfg.ServerBaseURL with the configured API key.
func DefaultClientFactory(cfg *config.Config) *rpc.Client {
	return rpc.NewClient(&http.Client{Timeout: 30 * time.Second}, cfg.ServerBaseURL(), cfg.APIKey)
}

// CommandContext provides shared dependencies to command handlers.
// Dependencies are lazily initialized on first access to avoid unnecessary work.
type CommandContext struct {
	// Config is the loaded configuration (may be nil if not initialized)
	Config *config.Config

	// ConfigErr is the error from loading config, if any
	ConfigErr error

	ctx    context.Context

	newClient  ClientFactory
	client     *rpc.Client
	clientOnce sync.Once
}

// NewContext creates a new CommandContext with the given config.
func NewContext(cfg *config.Config, cfgErr error) *CommandContext {
	return &CommandContext{
		Config:    cfg,
		ConfigErr: cfgErr,
		ctx:       context.Background(),
		newClient: DefaultClientFactory,
	}
}

// Context is the deadline-bound context for RPCs made by the command.
func (c *CommandContext) Context() context.Context {
	return c.ctx
}

// Client returns a lazily-initialized daemon client.
// Returns nil if config is not loaded.
func (c *CommandContext) Client() *rpc.Client {
	c.clientOnce.Do(func() {
		if c.Config != nil {
			c.client = c.newClient(c.Config)
		}
	})
	return c.client
}

// SaveConfig saves the configuration with standardized error wrapping.
func (c *CommandContext) SaveConfig() error {
	if c.Config == nil {
		return ErrNotInitialized
	}
	if err := c.Config.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// HasConfig returns true if config is loaded successfully.
func (c *CommandContext) HasConfig() bool {
	return c.Config != nil && c.ConfigErr == nil
}

// HasProfile returns true if a user is configured.
func (c *CommandContext) HasProfile() bool {
	return c.HasConfig() && c.Config.User != nil && c.Config.User.ID != ""
}

// UserID returns the configured user's id, or "".
func (c *CommandContext) UserID() string {
	if !c.HasProfile() {
		return ""
	}
	return c.Config.User.ID
}
