package rpc

import (
	"context"
	"errors"

	"connectrpc.com/connect"

	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
)

var codeFor = []struct {
	err  error
	code connect.Code
}{
	{apperrors.ErrNotLoggedIn, connect.CodeUnauthenticated},
	{apperrors.ErrProfileNotFound, connect.CodeNotFound},
	{apperrors.ErrAlertNotFound, connect.CodeNotFound},
	{apperrors.ErrNoPermission, connect.CodePermissionDenied},
	{apperrors.ErrIncorrectPin, connect.CodePermissionDenied},
	{apperrors.ErrTooManyAttempts, connect.CodeResourceExhausted},
	{apperrors.ErrInvalidDuration, connect.CodeInvalidArgument},
	{apperrors.ErrInvalidPin, connect.CodeInvalidArgument},
	{apperrors.ErrNoContacts, connect.CodeFailedPrecondition},
	{apperrors.ErrNoPin, connect.CodeFailedPrecondition},
	{apperrors.ErrTimerNotActive, connect.CodeFailedPrecondition},
	{apperrors.ErrTimerRunning, connect.CodeFailedPrecondition},
	{apperrors.ErrSharingActive, connect.CodeFailedPrecondition},
	{apperrors.ErrSharingNotActive, connect.CodeFailedPrecondition},
	{apperrors.ErrClockRunning, connect.CodeFailedPrecondition},
	{apperrors.ErrLocationUnavailable, connect.CodeUnavailable},
	{context.DeadlineExceeded, connect.CodeDeadlineExceeded},
	{context.Canceled, connect.CodeCanceled},
}

// toConnectError maps application errors onto Connect codes.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}
	var partial *apperrors.PartialFailureError
	if errors.As(err, &partial) {
		return connect.NewError(connect.CodeAborted, err)
	}
	for _, m := range codeFor {
		if errors.Is(err, m.err) {
			return connect.NewError(m.code, err)
		}
	}
	return connect.NewError(connect.CodeInternal, err)
}

var (
	errMissingContact = errors.New("contact_id is required")
	errMissingAlert   = errors.New("alert_id is required")
)
