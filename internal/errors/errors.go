package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Switchboard error code.
type ErrorCode string

const (
	ErrConfiguration        ErrorCode = "CONFIGURATION"          // 400
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"        // 400
	ErrNotFound             ErrorCode = "NOT_FOUND"              // 404
	ErrTransitionInProgress ErrorCode = "TRANSITION_IN_PROGRESS" // 409
	ErrRateLimited          ErrorCode = "RATE_LIMITED"           // 429
	ErrActivationFailed     ErrorCode = "ACTIVATION_FAILED"      // 502
	ErrDeactivationFailed   ErrorCode = "DEACTIVATION_FAILED"    // 502
	ErrSyncFailure          ErrorCode = "SYNC_FAILURE"           // 502
	ErrPartialActivation    ErrorCode = "PARTIAL_ACTIVATION"     // 207 (warning)
	ErrPartialRemoval       ErrorCode = "PARTIAL_REMOVAL"        // 207 (warning)
	ErrInternal             ErrorCode = "INTERNAL"               // 500
)

// RemediationSync is the suggested operator action attached to warnings.
const RemediationSync = "synchronize now"

// Error represents a structured error with code, status, and details.
type Error struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	// cause is the underlying store or transport error, if any.
	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Warning reports whether the error describes committed local state whose
// remote follow-up failed. Warnings are never rolled back.
func (e *Error) Warning() bool {
	return e.Code == ErrPartialActivation || e.Code == ErrPartialRemoval
}

// NewConfiguration creates a 400 error for unmet preconditions.
func NewConfiguration(msg string) *Error {
	return &Error{
		Code:    ErrConfiguration,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *Error {
	return &Error{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing record.
func NewNotFound(kind, identifier string) *Error {
	return &Error{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewTransitionInProgress creates a 409 error when an assistant's toggles are locked.
func NewTransitionInProgress(assistantID string) *Error {
	return &Error{
		Code:    ErrTransitionInProgress,
		Status:  409,
		Message: fmt.Sprintf("a capability transition is in progress for assistant %s", assistantID),
		Details: map[string]any{"assistant_id": assistantID},
	}
}

// NewRateLimited creates a 429 error when a remote mutation falls inside the cooldown.
func NewRateLimited(retryAfterMs int64) *Error {
	return &Error{
		Code:    ErrRateLimited,
		Status:  429,
		Message: fmt.Sprintf("remote mutations are throttled; retry in %dms", retryAfterMs),
		Details: map[string]any{"retry_after_ms": retryAfterMs},
	}
}

// NewActivationFailed creates a 502 error when the local link could not be created.
func NewActivationFailed(capabilityID string, cause error) *Error {
	return &Error{
		Code:    ErrActivationFailed,
		Status:  502,
		Message: fmt.Sprintf("failed to activate capability %s: %v", capabilityID, cause),
		Details: map[string]any{"capability_id": capabilityID},
		cause:   cause,
	}
}

// NewDeactivationFailed creates a 502 error when the local link could not be deleted.
func NewDeactivationFailed(capabilityID string, cause error) *Error {
	return &Error{
		Code:    ErrDeactivationFailed,
		Status:  502,
		Message: fmt.Sprintf("failed to deactivate capability %s: %v", capabilityID, cause),
		Details: map[string]any{"capability_id": capabilityID},
		cause:   cause,
	}
}

// NewPartialActivation creates a warning: the link exists locally but the remote add failed.
func NewPartialActivation(capabilityID string, cause error) *Error {
	return &Error{
		Code:    ErrPartialActivation,
		Status:  207,
		Message: fmt.Sprintf("capability %s linked locally but remote activation failed: %v", capabilityID, cause),
		Details: map[string]any{"capability_id": capabilityID, "remediation": RemediationSync},
		cause:   cause,
	}
}

// NewPartialRemoval creates a warning: the link was deleted locally but the remote removal failed.
func NewPartialRemoval(capabilityID string, cause error) *Error {
	return &Error{
		Code:    ErrPartialRemoval,
		Status:  207,
		Message: fmt.Sprintf("capability %s unlinked locally but remote removal failed: %v", capabilityID, cause),
		Details: map[string]any{"capability_id": capabilityID, "remediation": RemediationSync},
		cause:   cause,
	}
}

// NewSyncFailure creates a 502 error for one assistant's failed synchronization.
func NewSyncFailure(assistantID string, cause error) *Error {
	return &Error{
		Code:    ErrSyncFailure,
		Status:  502,
		Message: fmt.Sprintf("sync failed for assistant %s: %v", assistantID, cause),
		Details: map[string]any{"assistant_id": assistantID},
		cause:   cause,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error is (or wraps) an *Error with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *Error
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// IsWarning reports whether err is a partial-success warning.
func IsWarning(err error) bool {
	var sErr *Error
	if stderrors.As(err, &sErr) {
		return sErr.Warning()
	}
	return false
}
