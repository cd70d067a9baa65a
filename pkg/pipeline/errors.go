// Package pipeline sequences the deployment stages for a security-analytics
// workspace: preflight probe, infrastructure reconciliation, response
// automations, rule content, and automation role finalization.
package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, temporary service unavailability.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates a resource state conflict.
	// Examples: concurrent modifications, version token mismatches.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermission indicates the acting identity lacks a privilege.
	// Surfaced as a skip, never an abort.
	ErrorClassPermission ErrorClass = "permission"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: malformed manifest, unparsable response.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error represents a classified deployment error with context.
type Error struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Stage is the pipeline stage the error occurred in.
	Stage Stage `json:"stage,omitempty"`

	// Resource is the resource path that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Stage != "" && e.Resource != "" {
		return fmt.Sprintf("[%s] %s (stage=%s, resource=%s): %s",
			e.Class, e.Message, e.Stage, e.Resource, e.unwrapMessage())
	}
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s (stage=%s): %s",
			e.Class, e.Message, e.Stage, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewPermissionError creates a new permission error.
func NewPermissionError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassPermission,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithStage adds stage context to an error.
func (e *Error) WithStage(stage Stage) *Error {
	e.Stage = stage
	return e
}

// WithResource adds resource context to an error.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermission returns true if the error is classified as a permission error.
func IsPermission(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermission
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Transient and conflict errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsConflict(err)
}

// Common error codes.
const (
	ErrCodeWorkspaceNotFound = "WORKSPACE_NOT_FOUND"
	ErrCodePrimaryWorkspace  = "PRIMARY_WORKSPACE_CONFLICT"
	ErrCodeManifest          = "MANIFEST_ERROR"
	ErrCodePolicyBlocked     = "POLICY_BLOCKED"
	ErrCodeAborted           = "ABORTED"
	ErrCodeStageFailed       = "STAGE_FAILED"
)

// primaryWorkspaceFragments is the refusal signature the service emits when a
// data connector write collides with primary workspace management. Both
// fragments must occur, case-insensitively.
var primaryWorkspaceFragments = []string{"primary", "workspace"}

// isPrimaryWorkspaceConflict reports whether a failure detail matches the
// conflict signature that triggers the single infrastructure retry.
func isPrimaryWorkspaceConflict(detail string) bool {
	lower := strings.ToLower(detail)
	for _, fragment := range primaryWorkspaceFragments {
		if !strings.Contains(lower, fragment) {
			return false
		}
	}
	return true
}
