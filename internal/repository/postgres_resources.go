package repository

import (
	"context"
	"database/sql"
	"fmt"

	"relief-ussd/internal/domain"
)

// PostgresResourcesRepository 资源Repository实现
// available_capacity is guarded by the table CHECK constraint on top of
// the conditional UPDATE, so a bug here can never drive it negative.
type PostgresResourcesRepository struct {
	db *sql.DB
}

func NewPostgresResourcesRepository(db *sql.DB) *PostgresResourcesRepository {
	return &PostgresResourcesRepository{db: db}
}

// 确保实现了接口
var _ ResourcesRepository = (*PostgresResourcesRepository)(nil)

const resourceColumns = `
	resource_id::text,
	provider_id::text,
	name,
	resource_type,
	location,
	COALESCE(region, '') as region,
	total_capacity,
	available_capacity,
	created_at,
	updated_at`

func scanResources(rows *sql.Rows) ([]*domain.Resource, error) {
	var out []*domain.Resource
	for rows.Next() {
		var res domain.Resource
		if err := rows.Scan(
			&res.ResourceID,
			&res.ProviderID,
			&res.Name,
			&res.Type,
			&res.Location,
			&res.Region,
			&res.TotalCapacity,
			&res.AvailableCapacity,
			&res.CreatedAt,
			&res.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		out = append(out, &res)
	}
	return out, rows.Err()
}

// GetResource 根据resource_id获取资源
func (r *PostgresResourcesRepository) GetResource(ctx context.Context, resourceID string) (*domain.Resource, error) {
	if resourceID == "" {
		return nil, fmt.Errorf("resource_id is required")
	}

	query := `SELECT ` + resourceColumns + ` FROM resources WHERE resource_id = $1::uuid`
	var res domain.Resource
	err := r.db.QueryRowContext(ctx, query, resourceID).Scan(
		&res.ResourceID,
		&res.ProviderID,
		&res.Name,
		&res.Type,
		&res.Location,
		&res.Region,
		&res.TotalCapacity,
		&res.AvailableCapacity,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrResourceNotFound
		}
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return &res, nil
}

// ListCandidates 查询指定类型、指定位置、有余量的资源
// Ordering is the allocation tie-break: largest available capacity first,
// then lowest resource_id for reproducibility.
func (r *PostgresResourcesRepository) ListCandidates(ctx context.Context, serviceType, location string) ([]*domain.Resource, error) {
	query := `
		SELECT ` + resourceColumns + `
		FROM resources
		WHERE resource_type = $1
		  AND lower(btrim(location)) = $2
		  AND available_capacity > 0
		ORDER BY available_capacity DESC, resource_id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, serviceType, location)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()
	return scanResources(rows)
}

// ListRegionCandidates 按region回退匹配
func (r *PostgresResourcesRepository) ListRegionCandidates(ctx context.Context, serviceType, region string) ([]*domain.Resource, error) {
	query := `
		SELECT ` + resourceColumns + `
		FROM resources
		WHERE resource_type = $1
		  AND lower(btrim(COALESCE(region, ''))) = $2
		  AND available_capacity > 0
		ORDER BY available_capacity DESC, resource_id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, serviceType, region)
	if err != nil {
		return nil, fmt.Errorf("failed to list region candidates: %w", err)
	}
	defer rows.Close()
	return scanResources(rows)
}

// TryReserve 原子check-and-decrement
// One conditional UPDATE: re-validates the capacity at commit time and
// decrements in the same statement.
func (r *PostgresResourcesRepository) TryReserve(ctx context.Context, resourceID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE resources
		SET available_capacity = available_capacity - 1,
		    updated_at = NOW()
		WHERE resource_id = $1::uuid
		  AND available_capacity > 0
	`, resourceID)
	if err != nil {
		return false, fmt.Errorf("failed to reserve resource: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// Release 归还一个单位容量（显式取消时使用），不超过total_capacity
func (r *PostgresResourcesRepository) Release(ctx context.Context, resourceID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE resources
		SET available_capacity = available_capacity + 1,
		    updated_at = NOW()
		WHERE resource_id = $1::uuid
		  AND available_capacity < total_capacity
	`, resourceID)
	if err != nil {
		return fmt.Errorf("failed to release resource: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("release had no effect for resource %s", resourceID)
	}
	return nil
}

// UpsertResource 创建或更新资源（以resource_id为键）
func (r *PostgresResourcesRepository) UpsertResource(ctx context.Context, res *domain.Resource) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO resources (
			resource_id, provider_id, name, resource_type,
			location, region, total_capacity, available_capacity,
			created_at, updated_at
		) VALUES ($1::uuid, $2::uuid, $3, $4, $5, NULLIF($6, ''), $7, $8, NOW(), NOW())
		ON CONFLICT (resource_id) DO UPDATE SET
			provider_id = EXCLUDED.provider_id,
			name = EXCLUDED.name,
			resource_type = EXCLUDED.resource_type,
			location = EXCLUDED.location,
			region = EXCLUDED.region,
			total_capacity = EXCLUDED.total_capacity,
			available_capacity = EXCLUDED.available_capacity,
			updated_at = NOW()
	`,
		res.ResourceID, res.ProviderID, res.Name, res.Type,
		res.Location, res.Region, res.TotalCapacity, res.AvailableCapacity,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert resource: %w", err)
	}
	return nil
}
