package service

import (
	"context"

	"forwardbot/internal/privacy"
	"forwardbot/internal/tracing"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// WithVerbose marks ctx so that ids are logged unmasked
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// accountFields returns the standard fields for an account. Ids are masked
// unless verbose logging is on.
func accountFields(ctx context.Context, accountID int64) logrus.Fields {
	fields := logrus.Fields{}
	if IsVerboseLogging(ctx) {
		fields[LogFieldAccountID] = accountID
	} else {
		fields[LogFieldAccountID] = privacy.MaskID(accountID)
	}
	if cycleID := tracing.GetCycleID(ctx); cycleID != "" {
		fields[LogFieldCycleID] = cycleID
	}
	return fields
}

// contactField renders a contact id for logging
func contactField(ctx context.Context, contactID int64) interface{} {
	if IsVerboseLogging(ctx) {
		return contactID
	}
	return privacy.MaskID(contactID)
}
