package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"relief-ussd/internal/domain"
)

// MemoryResourcesRepo in-memory resource registry. The mutex makes
// TryReserve the same single atomic check-and-decrement the SQL
// implementation gets from its conditional UPDATE.
type MemoryResourcesRepo struct {
	mu        sync.Mutex
	resources map[string]domain.Resource // resourceID -> Resource
}

func NewMemoryResourcesRepo() *MemoryResourcesRepo {
	return &MemoryResourcesRepo{
		resources: map[string]domain.Resource{},
	}
}

var _ ResourcesRepository = (*MemoryResourcesRepo)(nil)

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (r *MemoryResourcesRepo) GetResource(_ context.Context, resourceID string) (*domain.Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.resources[resourceID]
	if !ok {
		return nil, ErrResourceNotFound
	}
	copied := res
	return &copied, nil
}

func (r *MemoryResourcesRepo) list(serviceType string, match func(domain.Resource) bool) []*domain.Resource {
	var out []*domain.Resource
	for _, res := range r.resources {
		if res.Type != serviceType || res.AvailableCapacity <= 0 {
			continue
		}
		if !match(res) {
			continue
		}
		copied := res
		out = append(out, &copied)
	}
	// Allocation tie-break order: most spare capacity, then lowest ID.
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvailableCapacity != out[j].AvailableCapacity {
			return out[i].AvailableCapacity > out[j].AvailableCapacity
		}
		return out[i].ResourceID < out[j].ResourceID
	})
	return out
}

func (r *MemoryResourcesRepo) ListCandidates(_ context.Context, serviceType, location string) ([]*domain.Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.list(serviceType, func(res domain.Resource) bool {
		return normalizeToken(res.Location) == location
	}), nil
}

func (r *MemoryResourcesRepo) ListRegionCandidates(_ context.Context, serviceType, region string) ([]*domain.Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.list(serviceType, func(res domain.Resource) bool {
		return normalizeToken(res.Region) == region
	}), nil
}

func (r *MemoryResourcesRepo) TryReserve(_ context.Context, resourceID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.resources[resourceID]
	if !ok {
		return false, ErrResourceNotFound
	}
	if res.AvailableCapacity <= 0 {
		return false, nil
	}
	res.AvailableCapacity--
	res.UpdatedAt = time.Now().UTC()
	r.resources[resourceID] = res
	return true, nil
}

func (r *MemoryResourcesRepo) Release(_ context.Context, resourceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.resources[resourceID]
	if !ok {
		return ErrResourceNotFound
	}
	if res.AvailableCapacity >= res.TotalCapacity {
		return nil
	}
	res.AvailableCapacity++
	res.UpdatedAt = time.Now().UTC()
	r.resources[resourceID] = res
	return nil
}

func (r *MemoryResourcesRepo) UpsertResource(_ context.Context, res *domain.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *res
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	copied.UpdatedAt = time.Now().UTC()
	r.resources[copied.ResourceID] = copied
	return nil
}
