// Package runner provides an interceptor-based command execution framework for CLI commands.
// It mirrors the pattern used by Connect-RPC interceptors, providing consistent middleware
// semantics for CLI command handlers.
package runner

import (
	"errors"

	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
)

// Standard errors returned by interceptors
var (
	// ErrNotInitialized is returned when safecheck is not initialized
	ErrNotInitialized = apperrors.ErrNotInitialized

	// ErrNoProfile is returned when a command needs a user but none is configured
	ErrNoProfile = errors.New("no user configured - run 'safecheck init --id <id> --name <name>'")
)
