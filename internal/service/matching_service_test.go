package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"relief-ussd/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedResource(t *testing.T, ts *testStack, id, serviceType, location, region string, capacity int) {
	t.Helper()
	err := ts.resources.UpsertResource(context.Background(), &domain.Resource{
		ResourceID:        id,
		ProviderID:        "00000000-0000-0000-0000-00000000bb02",
		Name:              "Resource " + id,
		Type:              serviceType,
		Location:          location,
		Region:            region,
		TotalCapacity:     capacity,
		AvailableCapacity: capacity,
	})
	require.NoError(t, err)
}

func TestAllocate_DeterministicTieBreak(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	// Equal type, location and capacity: the lower resource_id wins,
	// reproducibly.
	seedResource(t, ts, "bbb-resource", domain.ServiceShelter, "Lokoja", "", 5)
	seedResource(t, ts, "aaa-resource", domain.ServiceShelter, "Lokoja", "", 5)

	result, err := ts.matcher.Allocate(ctx, domain.ServiceShelter, "Lokoja", "phone-a", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "aaa-resource", result.ResourceID)

	// After the first allocation bbb has more spare capacity and takes
	// the next one (load spreading).
	result, err = ts.matcher.Allocate(ctx, domain.ServiceShelter, "Lokoja", "phone-a", "sess-2")
	require.NoError(t, err)
	assert.Equal(t, "bbb-resource", result.ResourceID)
}

func TestAllocate_LocationNormalizationAndAlias(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()
	seedResource(t, ts, "res-001", domain.ServiceFood, "Lokoja", "", 1)

	// "  GANAJA " -> "ganaja" -> alias -> "lokoja"
	result, err := ts.matcher.Allocate(ctx, domain.ServiceFood, "  GANAJA ", "phone-a", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "res-001", result.ResourceID)
}

func TestAllocate_RegionFallback(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()
	seedResource(t, ts, "res-001", domain.ServiceTransport, "Felele", "Lokoja", 1)

	// No exact location match; the provider-tagged region catches it.
	result, err := ts.matcher.Allocate(ctx, domain.ServiceTransport, "Lokoja", "phone-a", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "res-001", result.ResourceID)
}

func TestAllocate_ExhaustedStillRecordsRequest(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	_, err := ts.matcher.Allocate(ctx, domain.ServiceShelter, "Lokoja", "phone-a", "sess-1")
	require.ErrorIs(t, err, ErrAllocationExhausted)

	// The EXHAUSTED request row exists, reachable through the reference
	// recorded in the ledger entry.
	var reference string
	for _, e := range ts.audit.Entries() {
		if e.Action != domain.AuditAllocationExhausted {
			continue
		}
		var details map[string]any
		require.NoError(t, json.Unmarshal(e.Details, &details))
		reference, _ = details["reference"].(string)
	}
	require.NotEmpty(t, reference)

	req, err := ts.requests.GetRequestByReference(ctx, reference)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestExhausted, req.Status)
	assert.Empty(t, req.MatchedResourceID)
}

func TestAllocate_RejectsMalformedInput(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()
	seedResource(t, ts, "res-001", domain.ServiceShelter, "Lokoja", "", 1)

	_, err := ts.matcher.Allocate(ctx, "housing", "Lokoja", "phone-a", "sess-1")
	assert.ErrorIs(t, err, ErrValidationRejected)

	_, err = ts.matcher.Allocate(ctx, domain.ServiceShelter, "   ", "phone-a", "sess-1")
	assert.ErrorIs(t, err, ErrValidationRejected)

	// Rejected requests never touch resource state.
	res, err := ts.resources.GetResource(ctx, "res-001")
	require.NoError(t, err)
	assert.Equal(t, 1, res.AvailableCapacity)
}

func TestAllocate_NoOverAllocationUnderConcurrency(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	const capacity = 50
	const callers = 100
	seedResource(t, ts, "res-001", domain.ServiceShelter, "Lokoja", "", capacity)

	var wg sync.WaitGroup
	matched := make(chan struct{}, callers)
	exhausted := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ts.matcher.Allocate(ctx, domain.ServiceShelter, "Lokoja", "phone-a", "sess-1")
			switch {
			case err == nil:
				matched <- struct{}{}
			case err == ErrAllocationExhausted:
				exhausted <- struct{}{}
			default:
				t.Errorf("unexpected allocation error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(matched)
	close(exhausted)

	assert.Equal(t, capacity, len(matched))
	assert.Equal(t, callers-capacity, len(exhausted))

	res, err := ts.resources.GetResource(ctx, "res-001")
	require.NoError(t, err)
	assert.Equal(t, 0, res.AvailableCapacity)

	count, err := ts.requests.CountMatchedByResource(ctx, "res-001")
	require.NoError(t, err)
	assert.Equal(t, capacity, count,
		"capacity spent must equal the number of matched requests")
}

func TestAllocate_ReleaseRestoresCapacity(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()
	seedResource(t, ts, "res-001", domain.ServiceShelter, "Lokoja", "", 1)

	_, err := ts.matcher.Allocate(ctx, domain.ServiceShelter, "Lokoja", "phone-a", "sess-1")
	require.NoError(t, err)

	require.NoError(t, ts.resources.Release(ctx, "res-001"))
	res, err := ts.resources.GetResource(ctx, "res-001")
	require.NoError(t, err)
	assert.Equal(t, 1, res.AvailableCapacity)

	// Release clamps at total_capacity.
	require.NoError(t, ts.resources.Release(ctx, "res-001"))
	res, err = ts.resources.GetResource(ctx, "res-001")
	require.NoError(t, err)
	assert.Equal(t, 1, res.AvailableCapacity)
}

func TestPriorOutcome(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()
	seedResource(t, ts, "res-001", domain.ServiceShelter, "Lokoja", "", 1)

	// Nothing recorded yet.
	result, err := ts.matcher.PriorOutcome(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, result)

	// A committed match is replayed with the same reference.
	first, err := ts.matcher.Allocate(ctx, domain.ServiceShelter, "Lokoja", "phone-a", "sess-1")
	require.NoError(t, err)
	result, err = ts.matcher.PriorOutcome(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, first.ReferenceNumber, result.ReferenceNumber)
	assert.Equal(t, first.ResourceID, result.ResourceID)

	// A committed exhaustion replays as exhaustion.
	_, err = ts.matcher.Allocate(ctx, domain.ServiceShelter, "Lokoja", "phone-b", "sess-2")
	require.ErrorIs(t, err, ErrAllocationExhausted)
	_, err = ts.matcher.PriorOutcome(ctx, "sess-2")
	assert.ErrorIs(t, err, ErrAllocationExhausted)
}

func TestNormalizeLocation(t *testing.T) {
	aliases := map[string]string{"ganaja": "lokoja"}
	assert.Equal(t, "lokoja", NormalizeLocation("  Lokoja ", aliases))
	assert.Equal(t, "lokoja", NormalizeLocation("GANAJA", aliases))
	assert.Equal(t, "new karshi", NormalizeLocation("New   Karshi", aliases))
}
