package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"relief-ussd/internal/domain"
	"relief-ussd/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrAllocationExhausted means no candidate resource had capacity.
	// An EXHAUSTED request row is still written for traceability.
	ErrAllocationExhausted = errors.New("no resource with capacity available")
	// ErrValidationRejected means malformed service type or location;
	// resource state is never touched.
	ErrValidationRejected = errors.New("allocation request rejected")
)

// MatchResult is a successful allocation.
type MatchResult struct {
	ReferenceNumber string
	ResourceID      string
	ResourceName    string
	ProviderID      string
}

// MatchingService owns all Resource capacity mutation. Selection is
// deterministic: exact normalized-location candidates first, then the
// provider-tagged region fallback, ordered by available capacity DESC and
// resource_id ASC. Reservation is a single atomic check-and-decrement;
// losing a race excludes the candidate and retries, bounded.
type MatchingService struct {
	resources repository.ResourcesRepository
	requests  repository.RequestsRepository
	ledger    *Ledger

	maxAttempts int
	aliases     map[string]string

	logger *zap.Logger
}

func NewMatchingService(resources repository.ResourcesRepository, requests repository.RequestsRepository, ledger *Ledger, maxAttempts int, aliases map[string]string, logger *zap.Logger) *MatchingService {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &MatchingService{
		resources:   resources,
		requests:    requests,
		ledger:      ledger,
		maxAttempts: maxAttempts,
		aliases:     aliases,
		logger:      logger,
	}
}

// NormalizeLocation lowercases, trims, collapses inner whitespace and
// applies the alias table.
func NormalizeLocation(s string, aliases map[string]string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	if canonical, ok := aliases[s]; ok {
		return canonical
	}
	return s
}

// Allocate reserves one unit of a matching resource for the caller.
// Returns the match on success, ErrAllocationExhausted when every
// candidate is out of capacity, ErrValidationRejected for malformed input.
func (m *MatchingService) Allocate(ctx context.Context, serviceType, location, phoneHash, sessionID string) (*MatchResult, error) {
	if !domain.ValidServiceType(serviceType) || strings.TrimSpace(location) == "" {
		if _, err := m.ledger.Append(ctx, domain.AuditAllocationRejected, phoneHash, sessionID, map[string]any{
			"service_type": serviceType,
			"location":     sanitizeInput(location),
			"reason":       "validation",
		}); err != nil {
			return nil, err
		}
		return nil, ErrValidationRejected
	}

	loc := NormalizeLocation(location, m.aliases)

	excluded := map[string]bool{}
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		candidate, err := m.pickCandidate(ctx, serviceType, loc, excluded)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			break
		}

		ok, err := m.resources.TryReserve(ctx, candidate.ResourceID)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve: %w", err)
		}
		if !ok {
			// Lost the race at commit time; never retry this resource.
			excluded[candidate.ResourceID] = true
			continue
		}

		return m.commitMatched(ctx, candidate, serviceType, loc, phoneHash, sessionID)
	}

	return nil, m.commitExhausted(ctx, serviceType, loc, phoneHash, sessionID)
}

// PriorOutcome returns the outcome already committed by this session, or
// nil when the session has no recorded request. The error contract
// mirrors Allocate: ErrAllocationExhausted for a recorded EXHAUSTED
// request. Lets a retried confirm be answered from the record instead of
// spending capacity a second time.
func (m *MatchingService) PriorOutcome(ctx context.Context, sessionID string) (*MatchResult, error) {
	req, err := m.requests.GetRequestBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrRequestNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up prior outcome: %w", err)
	}
	if req.Status != domain.RequestMatched {
		return nil, ErrAllocationExhausted
	}
	res, err := m.resources.GetResource(ctx, req.MatchedResourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load matched resource: %w", err)
	}
	return &MatchResult{
		ReferenceNumber: req.ReferenceNumber,
		ResourceID:      res.ResourceID,
		ResourceName:    res.Name,
		ProviderID:      res.ProviderID,
	}, nil
}

// pickCandidate returns the best non-excluded candidate, falling back
// from exact location to region matches.
func (m *MatchingService) pickCandidate(ctx context.Context, serviceType, loc string, excluded map[string]bool) (*domain.Resource, error) {
	candidates, err := m.resources.ListCandidates(ctx, serviceType, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	if c := firstEligible(candidates, excluded); c != nil {
		return c, nil
	}

	candidates, err = m.resources.ListRegionCandidates(ctx, serviceType, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to list region candidates: %w", err)
	}
	return firstEligible(candidates, excluded), nil
}

func firstEligible(candidates []*domain.Resource, excluded map[string]bool) *domain.Resource {
	for _, c := range candidates {
		if !excluded[c.ResourceID] {
			return c
		}
	}
	return nil
}

func (m *MatchingService) commitMatched(ctx context.Context, res *domain.Resource, serviceType, loc, phoneHash, sessionID string) (*MatchResult, error) {
	ref, err := m.ledger.NewReferenceNumber(ctx)
	if err != nil {
		m.undoReserve(ctx, res.ResourceID, phoneHash, sessionID)
		return nil, err
	}

	// The allocation has not happened until its audit entry is durable.
	if _, err := m.ledger.Append(ctx, domain.AuditAllocationMatched, phoneHash, sessionID, map[string]any{
		"reference":    ref,
		"resource_id":  res.ResourceID,
		"service_type": serviceType,
		"location":     loc,
	}); err != nil {
		m.undoReserve(ctx, res.ResourceID, phoneHash, sessionID)
		return nil, err
	}

	request := &domain.EmergencyRequest{
		RequestID:         uuid.NewString(),
		ReferenceNumber:   ref,
		PhoneHash:         phoneHash,
		SessionID:         sessionID,
		ServiceType:       serviceType,
		Location:          loc,
		MatchedResourceID: res.ResourceID,
		Status:            domain.RequestMatched,
		CreatedAt:         time.Now().UTC(),
	}
	if err := m.requests.CreateRequest(ctx, request); err != nil {
		m.undoReserve(ctx, res.ResourceID, phoneHash, sessionID)
		return nil, fmt.Errorf("failed to store request: %w", err)
	}

	m.logger.Info("allocation matched",
		zap.String("reference", ref),
		zap.String("resource_id", res.ResourceID),
		zap.String("service_type", serviceType),
		zap.String("location", loc),
	)
	return &MatchResult{
		ReferenceNumber: ref,
		ResourceID:      res.ResourceID,
		ResourceName:    res.Name,
		ProviderID:      res.ProviderID,
	}, nil
}

func (m *MatchingService) commitExhausted(ctx context.Context, serviceType, loc, phoneHash, sessionID string) error {
	ref, err := m.ledger.NewReferenceNumber(ctx)
	if err != nil {
		return err
	}
	if _, err := m.ledger.Append(ctx, domain.AuditAllocationExhausted, phoneHash, sessionID, map[string]any{
		"reference":    ref,
		"service_type": serviceType,
		"location":     loc,
	}); err != nil {
		return err
	}
	request := &domain.EmergencyRequest{
		RequestID:       uuid.NewString(),
		ReferenceNumber: ref,
		PhoneHash:       phoneHash,
		SessionID:       sessionID,
		ServiceType:     serviceType,
		Location:        loc,
		Status:          domain.RequestExhausted,
		CreatedAt:       time.Now().UTC(),
	}
	if err := m.requests.CreateRequest(ctx, request); err != nil {
		return fmt.Errorf("failed to store exhausted request: %w", err)
	}
	return ErrAllocationExhausted
}

// undoReserve compensates a decrement whose allocation could not be
// durably recorded, and leaves a trace of the reversal.
func (m *MatchingService) undoReserve(ctx context.Context, resourceID, phoneHash, sessionID string) {
	if err := m.resources.Release(ctx, resourceID); err != nil {
		m.logger.Error("failed to release reservation after commit failure",
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
		return
	}
	if _, err := m.ledger.Append(ctx, domain.AuditResourceReleased, phoneHash, sessionID, map[string]any{
		"resource_id": resourceID,
		"reason":      "allocation commit failed",
	}); err != nil {
		m.logger.Error("failed to record reservation release", zap.Error(err))
	}
}
