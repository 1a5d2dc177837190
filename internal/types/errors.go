package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. All components MUST use these constants instead of
// hardcoded strings.
const (
	// Configuration errors: fatal, raised at construction or provisioning
	// time, never retried.
	ErrCodeConfigMissingField     ErrorCode = "config_missing_required_field"
	ErrCodeConfigInvalidThreshold ErrorCode = "config_invalid_threshold"
	ErrCodeConfigInvalidCombo     ErrorCode = "config_invalid_combination"
	ErrCodeConfigUnresolvableRef  ErrorCode = "config_unresolvable_reference"
	ErrCodeConfigInvalidKind      ErrorCode = "config_invalid_component_kind"
	ErrCodeConfigInvalidCron      ErrorCode = "config_invalid_cron_expression"

	// Provisioning errors: surfaced to the caller of Provision.
	ErrCodeProvisionTimeout      ErrorCode = "provision_timeout"
	ErrCodeProvisionCreateFailed ErrorCode = "provision_create_failed"
	ErrCodeProvisionListFailed   ErrorCode = "provision_list_failed"

	// Child execution errors: recovered locally by the scheduler so a
	// failing job can never bring down the heartbeat.
	ErrCodeChildFailed  ErrorCode = "child_execution_failed"
	ErrCodeChildPanic   ErrorCode = "child_execution_panic"
	ErrCodeChildTimeout ErrorCode = "child_execution_timeout"

	// Upstream/vendor errors.
	ErrCodeUpstreamQueue       ErrorCode = "upstream_queue_unavailable"
	ErrCodeUpstreamWebhook     ErrorCode = "upstream_webhook_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
)

// AppError is the standard application error type used throughout the
// platform. All domain errors should be expressed as AppError to enable
// consistent formatting, taxonomy checks, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsConfiguration reports whether err (or anything it wraps) is an AppError
// carrying a config_* code. Configuration errors are fatal and must surface
// to the operator rather than being retried.
func IsConfiguration(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return strings.HasPrefix(string(appErr.Code), "config_")
}

// IsProvisioningTimeout reports whether err is the bounded-retry timeout
// raised when a dead-letter queue address never became resolvable.
func IsProvisioningTimeout(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == ErrCodeProvisionTimeout
}

// IsChildExecution reports whether err carries a child_* code, i.e. a
// failure that was captured at the isolation boundary during fan-out.
func IsChildExecution(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return strings.HasPrefix(string(appErr.Code), "child_")
}
