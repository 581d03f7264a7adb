package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestWithCycle(t *testing.T) {
	ctx := WithCycle(context.Background(), 42)

	info := GetCycleInfo(ctx)
	_, err := uuid.Parse(info.CycleID)
	assert.NoError(t, err)
	assert.Equal(t, int64(42), info.AccountID)
	assert.False(t, info.StartTime.IsZero())
}

func TestCycleIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateCycleID()
		assert.False(t, seen[id], "duplicate cycle id %s", id)
		seen[id] = true
	}
}

func TestEmptyContext(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, GetCycleID(ctx))
	assert.Zero(t, GetAccountID(ctx))
	assert.True(t, GetStartTime(ctx).IsZero())
	assert.Zero(t, Duration(ctx))
}

func TestDuration(t *testing.T) {
	ctx := context.WithValue(context.Background(), StartTimeKey, time.Now().Add(-time.Second))
	assert.GreaterOrEqual(t, Duration(ctx), time.Second)
}
