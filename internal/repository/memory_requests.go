package repository

import (
	"context"
	"sync"

	"relief-ussd/internal/domain"
)

// MemoryRequestsRepo in-memory emergency request store.
type MemoryRequestsRepo struct {
	mu       sync.RWMutex
	requests map[string]domain.EmergencyRequest // reference -> request
}

func NewMemoryRequestsRepo() *MemoryRequestsRepo {
	return &MemoryRequestsRepo{
		requests: map[string]domain.EmergencyRequest{},
	}
}

var _ RequestsRepository = (*MemoryRequestsRepo)(nil)

func (r *MemoryRequestsRepo) CreateRequest(_ context.Context, req *domain.EmergencyRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests[req.ReferenceNumber] = *req
	return nil
}

func (r *MemoryRequestsRepo) GetRequestByReference(_ context.Context, reference string) (*domain.EmergencyRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[reference]
	if !ok {
		return nil, ErrRequestNotFound
	}
	copied := req
	return &copied, nil
}

func (r *MemoryRequestsRepo) GetRequestBySession(_ context.Context, sessionID string) (*domain.EmergencyRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *domain.EmergencyRequest
	for _, req := range r.requests {
		if req.SessionID != sessionID {
			continue
		}
		if latest == nil || req.CreatedAt.After(latest.CreatedAt) {
			copied := req
			latest = &copied
		}
	}
	if latest == nil {
		return nil, ErrRequestNotFound
	}
	return latest, nil
}

func (r *MemoryRequestsRepo) ReferenceExists(_ context.Context, reference string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.requests[reference]
	return ok, nil
}

func (r *MemoryRequestsRepo) CountMatchedByResource(_ context.Context, resourceID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, req := range r.requests {
		if req.MatchedResourceID == resourceID && req.Status == domain.RequestMatched {
			count++
		}
	}
	return count, nil
}
