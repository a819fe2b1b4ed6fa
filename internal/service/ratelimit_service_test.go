package service

import (
	"context"
	"testing"
	"time"

	"relief-ussd/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimit_DenyAfterLimitAllowAfterWindow(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	require.NoError(t, ts.limiter.Check(ctx, "phone-a", "sess-1"))

	for i := 0; i < 3; i++ {
		require.NoError(t, ts.limiter.RecordAllocation(ctx, "phone-a"))
	}
	assert.ErrorIs(t, ts.limiter.Check(ctx, "phone-a", "sess-1"), ErrRateLimited)

	// A different phone is unaffected.
	assert.NoError(t, ts.limiter.Check(ctx, "phone-b", "sess-2"))

	// Once the window expires the counter is gone and the phone is
	// allowed again.
	ts.mr.FastForward(time.Hour + time.Second)
	assert.NoError(t, ts.limiter.Check(ctx, "phone-a", "sess-1"))
}

func TestRateLimit_DenyWritesLedgerEntry(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, ts.limiter.RecordAllocation(ctx, "phone-a"))
	}
	require.ErrorIs(t, ts.limiter.Check(ctx, "phone-a", "sess-1"), ErrRateLimited)

	actions := auditActions(ts)
	assert.Contains(t, actions, domain.AuditRateLimitExceeded)
}

func TestRateLimit_SessionStartsAdvisoryOnly(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	// Threshold is 2 starts per window; the third is flagged but every
	// call still succeeds.
	for i := 0; i < 3; i++ {
		require.NoError(t, ts.limiter.RecordSessionStart(ctx, "phone-a", "sess-1"))
	}

	actions := auditActions(ts)
	assert.Contains(t, actions, domain.AuditSuspiciousActivity)
	assert.NotContains(t, actions, domain.AuditRateLimitExceeded)

	// Starts never count against the allocation budget.
	assert.NoError(t, ts.limiter.Check(ctx, "phone-a", "sess-1"))
}

func TestRateLimit_StartWindowExpires(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	require.NoError(t, ts.limiter.RecordSessionStart(ctx, "phone-a", "sess-1"))
	require.NoError(t, ts.limiter.RecordSessionStart(ctx, "phone-a", "sess-1"))
	ts.mr.FastForward(10*time.Minute + time.Second)
	require.NoError(t, ts.limiter.RecordSessionStart(ctx, "phone-a", "sess-1"))

	assert.NotContains(t, auditActions(ts), domain.AuditSuspiciousActivity)
}
