package errors

import (
	"fmt"
	"strings"
)

// Common error creators for the forwarding cycle

// NewSourceUnavailableError reports that a long-poll session could not be obtained
func NewSourceUnavailableError(accountID int64, err error) *AppError {
	return WrapRetryable(err, ErrCodeSourceUnavailable, "failed to acquire long-poll session").
		WithContext("account_id", accountID)
}

// NewPollFailedError reports that the long-poll request itself failed
func NewPollFailedError(accountID int64, err error) *AppError {
	return WrapRetryable(err, ErrCodePollFailed, "long-poll request failed").
		WithContext("account_id", accountID)
}

// NewAttachmentError reports a single attachment that could not be resolved
func NewAttachmentError(kind string, err error) *AppError {
	return Wrap(err, ErrCodeAttachmentUnresolvable, "attachment could not be resolved").
		WithContext("attachment_kind", kind)
}

// NewDispatchError reports a message the sink did not accept
func NewDispatchError(accountID int64, err error) *AppError {
	return Wrap(err, ErrCodeDispatchFailed, "failed to dispatch message").
		WithContext("account_id", accountID)
}

// NewAccountUnrecoverableError marks an account whose state cannot be repaired by retrying
func NewAccountUnrecoverableError(accountID int64, reason string, err error) *AppError {
	return Wrap(err, ErrCodeAccountUnrecoverable, reason).
		WithContext("account_id", accountID)
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key)
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation)
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier)
}

// NewValidationError creates an input validation error
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeInvalidInput, message).
		WithContext("field", field)
}

// maxAlertCauseDepth bounds how many nested causes an operator alert shows
const maxAlertCauseDepth = 2

// BuildAlertMessage renders the operator alert for a repeated failure: the
// error message, at most two nested causes and the affected VK user.
func BuildAlertMessage(err error, sourceUserID int64) string {
	var sb strings.Builder
	sb.WriteString("ForwardingFailure {\n")
	if err != nil {
		sb.WriteString("   errorMessage = ")
		sb.WriteString(describe(err))
		sb.WriteString(",\n")

		cause := unwrapCause(err)
		for depth := 1; cause != nil && depth <= maxAlertCauseDepth; depth++ {
			if depth == 1 {
				sb.WriteString("   causeMessage = ")
			} else {
				fmt.Fprintf(&sb, "   cause%dMessage = ", depth)
			}
			sb.WriteString(describe(cause))
			sb.WriteString(",\n")
			cause = unwrapCause(cause)
		}
	}
	fmt.Fprintf(&sb, "   vkUserId = %d\n}", sourceUserID)
	return sb.String()
}

// describe returns only the error's own message so causes are not repeated
func describe(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return fmt.Sprintf("%s: %s", appErr.Code, appErr.Message)
	}
	msg := err.Error()
	if cause := unwrapCause(err); cause != nil {
		msg = strings.TrimSuffix(msg, ": "+cause.Error())
	}
	return msg
}

func unwrapCause(err error) error {
	if u, ok := err.(interface{ Unwrap() error }); ok {
		return u.Unwrap()
	}
	return nil
}
