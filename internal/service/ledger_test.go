package service

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"relief-ussd/internal/domain"
	"relief-ussd/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var referencePattern = regexp.MustCompile(`^ER\d{6}[0-9A-F]{6}$`)

func TestNewReferenceNumber_Format(t *testing.T) {
	ts := newTestStack(t)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		ref, err := ts.ledger.NewReferenceNumber(context.Background())
		require.NoError(t, err)
		assert.Regexp(t, referencePattern, ref)
		assert.False(t, seen[ref], "duplicate reference %s", ref)
		seen[ref] = true
	}
}

// collidingRequestsRepo reports the first N uniqueness checks as taken.
type collidingRequestsRepo struct {
	repository.RequestsRepository
	collisions int
	checks     int
}

func (r *collidingRequestsRepo) ReferenceExists(_ context.Context, _ string) (bool, error) {
	r.checks++
	return r.checks <= r.collisions, nil
}

func TestNewReferenceNumber_RetriesOnCollision(t *testing.T) {
	repo := &collidingRequestsRepo{collisions: 2}
	ledger := NewLedger(repository.NewMemoryAuditRepo(), repo, zap.NewNop())

	ref, err := ledger.NewReferenceNumber(context.Background())
	require.NoError(t, err)
	assert.Regexp(t, referencePattern, ref)
	assert.Equal(t, 3, repo.checks)
}

func TestNewReferenceNumber_GivesUpAfterBoundedAttempts(t *testing.T) {
	repo := &collidingRequestsRepo{collisions: 100}
	ledger := NewLedger(repository.NewMemoryAuditRepo(), repo, zap.NewNop())

	_, err := ledger.NewReferenceNumber(context.Background())
	require.Error(t, err)
	assert.Equal(t, referenceAttempts, repo.checks)
}

func TestLedgerAppend_SeqIsMonotonic(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	var prev int64
	for i := 0; i < 5; i++ {
		seq, err := ts.ledger.Append(ctx, domain.AuditStateTransition, "phone-a", "sess-1", map[string]any{"step": i})
		require.NoError(t, err)
		assert.Greater(t, seq, prev)
		prev = seq
	}
}

func TestLedgerAppend_NilDetailsRecordsEmptyObject(t *testing.T) {
	ts := newTestStack(t)

	_, err := ts.ledger.Append(context.Background(), domain.AuditSessionStarted, "phone-a", "sess-1", nil)
	require.NoError(t, err)

	entries := ts.audit.Entries()
	require.Len(t, entries, 1)
	var details map[string]any
	require.NoError(t, json.Unmarshal(entries[0].Details, &details))
	assert.Empty(t, details)
}
