package repository

import (
	"context"

	"relief-ussd/internal/domain"
)

// ResourcesRepository 资源Repository接口
// The core only reads resources and mutates capacity; creation and
// provider metadata belong to the external registry (the import tool
// writes through UpsertResource on the registry's behalf).
type ResourcesRepository interface {
	// GetResource 根据resource_id获取资源
	GetResource(ctx context.Context, resourceID string) (*domain.Resource, error)

	// ListCandidates returns resources of the given type with spare
	// capacity whose normalized location equals location, ordered by
	// available_capacity DESC then resource_id ASC (the allocation
	// tie-break order).
	ListCandidates(ctx context.Context, serviceType, location string) ([]*domain.Resource, error)

	// ListRegionCandidates is the fallback: same ordering, matching the
	// provider-tagged region instead of the exact location.
	ListRegionCandidates(ctx context.Context, serviceType, region string) ([]*domain.Resource, error)

	// TryReserve atomically re-checks available_capacity > 0 and
	// decrements it by exactly 1. Returns false when the resource lost
	// the race (or has no capacity); the caller retries other candidates.
	TryReserve(ctx context.Context, resourceID string) (bool, error)

	// Release increments available_capacity by 1, clamped to
	// total_capacity. Used on explicit cancellation by the registry.
	Release(ctx context.Context, resourceID string) error

	// UpsertResource 创建或更新资源（resource-import 工具使用）
	UpsertResource(ctx context.Context, resource *domain.Resource) error
}
