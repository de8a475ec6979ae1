// Package errors provides sentinel errors for the safecheck application.
package errors

import (
	"errors"
	"fmt"
)

// Setup errors
var (
	// ErrNotInitialized is returned when no config file exists yet.
	ErrNotInitialized = errors.New("safecheck not initialized - run 'safecheck init' first")
)

// Identity errors
var (
	// ErrNotLoggedIn is returned when there is no signed-in user.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrProfileNotFound is returned when the sender profile cannot be resolved.
	ErrProfileNotFound = errors.New("profile not found")
)

// Precondition errors (returned before any state is mutated)
var (
	// ErrNoContacts is returned when the user has no emergency contacts.
	ErrNoContacts = errors.New("no emergency contacts configured")

	// ErrNoPermission is returned when location permission has not been granted.
	ErrNoPermission = errors.New("location permission not granted")

	// ErrInvalidDuration is returned for a non-positive timer duration.
	ErrInvalidDuration = errors.New("timer duration must be positive")
)

// Check-in errors
var (
	// ErrIncorrectPin is returned when a check-in PIN does not match.
	ErrIncorrectPin = errors.New("incorrect PIN")

	// ErrNoPin is returned when a check-in is attempted before a PIN is set.
	ErrNoPin = errors.New("no PIN set")

	// ErrInvalidPin is returned when a PIN is not 4-6 digits.
	ErrInvalidPin = errors.New("PIN must be 4-6 digits")

	// ErrTooManyAttempts is returned by a lockout policy.
	ErrTooManyAttempts = errors.New("too many incorrect PIN attempts")

	// ErrTimerNotActive is returned when no timer is running.
	ErrTimerNotActive = errors.New("no active timer")

	// ErrTimerRunning is returned when the PIN is changed while a timer runs.
	ErrTimerRunning = errors.New("cannot change the PIN while a timer is running")
)

// Dispatch errors
var (
	// ErrLocationUnavailable is returned when no location fix could be obtained.
	ErrLocationUnavailable = errors.New("location unavailable")

	// ErrAlertNotFound is returned when acknowledging an unknown alert.
	ErrAlertNotFound = errors.New("alert not found")
)

// Clock and sharing errors
var (
	// ErrClockRunning is returned when starting a clock that is already running.
	ErrClockRunning = errors.New("clock already running")

	// ErrSharingActive is returned when location sharing is already running.
	ErrSharingActive = errors.New("location sharing already active")

	// ErrSharingNotActive is returned when stopping sharing that is not running.
	ErrSharingNotActive = errors.New("location sharing not active")
)

// PartialFailureError reports a fan-out that reached some but not all contacts.
type PartialFailureError struct {
	Succeeded int
	Failed    int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("alert delivered to %d of %d contacts", e.Succeeded, e.Succeeded+e.Failed)
}
