package tracing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ContextKey represents keys used for context values
type ContextKey string

const (
	// CycleIDKey is the context key for forwarding cycle IDs
	CycleIDKey ContextKey = "cycle_id"
	// AccountIDKey is the context key for the account a cycle runs for
	AccountIDKey ContextKey = "account_id"
	// StartTimeKey is the context key for cycle start time
	StartTimeKey ContextKey = "start_time"
)

// CycleInfo contains tracing information for one forwarding cycle
type CycleInfo struct {
	CycleID   string    `json:"cycle_id"`
	AccountID int64     `json:"account_id"`
	StartTime time.Time `json:"start_time"`
}

// GenerateCycleID generates a unique cycle ID
func GenerateCycleID() string {
	return uuid.NewString()
}

// WithCycle starts cycle bookkeeping for an account: a fresh cycle id and start time
func WithCycle(ctx context.Context, accountID int64) context.Context {
	ctx = context.WithValue(ctx, CycleIDKey, GenerateCycleID())
	ctx = context.WithValue(ctx, AccountIDKey, accountID)
	return context.WithValue(ctx, StartTimeKey, time.Now())
}

// GetCycleID extracts the cycle ID from context
func GetCycleID(ctx context.Context) string {
	if id, ok := ctx.Value(CycleIDKey).(string); ok {
		return id
	}
	return ""
}

// GetAccountID extracts the account ID from context
func GetAccountID(ctx context.Context) int64 {
	if id, ok := ctx.Value(AccountIDKey).(int64); ok {
		return id
	}
	return 0
}

// GetStartTime extracts the start time from context
func GetStartTime(ctx context.Context) time.Time {
	if startTime, ok := ctx.Value(StartTimeKey).(time.Time); ok {
		return startTime
	}
	return time.Time{}
}

// GetCycleInfo extracts all cycle information from context
func GetCycleInfo(ctx context.Context) *CycleInfo {
	return &CycleInfo{
		CycleID:   GetCycleID(ctx),
		AccountID: GetAccountID(ctx),
		StartTime: GetStartTime(ctx),
	}
}

// Duration calculates the duration since the start time in context
func Duration(ctx context.Context) time.Duration {
	startTime := GetStartTime(ctx)
	if startTime.IsZero() {
		return 0
	}
	return time.Since(startTime)
}
