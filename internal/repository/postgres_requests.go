package repository

import (
	"context"
	"database/sql"
	"fmt"

	"relief-ussd/internal/domain"
)

// PostgresRequestsRepository 紧急请求Repository实现
type PostgresRequestsRepository struct {
	db *sql.DB
}

func NewPostgresRequestsRepository(db *sql.DB) *PostgresRequestsRepository {
	return &PostgresRequestsRepository{db: db}
}

// 确保实现了接口
var _ RequestsRepository = (*PostgresRequestsRepository)(nil)

// CreateRequest 创建紧急请求
func (r *PostgresRequestsRepository) CreateRequest(ctx context.Context, req *domain.EmergencyRequest) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO emergency_requests (
			request_id, reference_number, phone_hash, session_id,
			service_type, location, matched_resource_id, status, created_at
		) VALUES ($1::uuid, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, '')::uuid, $8, $9)
	`,
		req.RequestID, req.ReferenceNumber, req.PhoneHash, req.SessionID,
		req.ServiceType, req.Location, req.MatchedResourceID,
		req.Status, req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create emergency request: %w", err)
	}
	return nil
}

// GetRequestByReference 根据reference_number获取请求
func (r *PostgresRequestsRepository) GetRequestByReference(ctx context.Context, reference string) (*domain.EmergencyRequest, error) {
	if reference == "" {
		return nil, fmt.Errorf("reference_number is required")
	}

	return r.getRequest(ctx, `WHERE reference_number = $1`, reference)
}

// GetRequestBySession 根据session_id获取请求
func (r *PostgresRequestsRepository) GetRequestBySession(ctx context.Context, sessionID string) (*domain.EmergencyRequest, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	return r.getRequest(ctx, `WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1`, sessionID)
}

const requestColumns = `
	request_id::text,
	reference_number,
	phone_hash,
	COALESCE(session_id, '') as session_id,
	service_type,
	location,
	COALESCE(matched_resource_id::text, '') as matched_resource_id,
	status,
	created_at`

func (r *PostgresRequestsRepository) getRequest(ctx context.Context, where string, arg any) (*domain.EmergencyRequest, error) {
	var req domain.EmergencyRequest
	err := r.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM emergency_requests `+where, arg,
	).Scan(
		&req.RequestID,
		&req.ReferenceNumber,
		&req.PhoneHash,
		&req.SessionID,
		&req.ServiceType,
		&req.Location,
		&req.MatchedResourceID,
		&req.Status,
		&req.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return &req, nil
}

// ReferenceExists 检查reference_number是否已占用
func (r *PostgresRequestsRepository) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM emergency_requests WHERE reference_number = $1)`,
		reference,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check reference: %w", err)
	}
	return exists, nil
}

// CountMatchedByResource 统计匹配到某资源的请求数
func (r *PostgresRequestsRepository) CountMatchedByResource(ctx context.Context, resourceID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM emergency_requests
		WHERE matched_resource_id = $1::uuid
		  AND status = $2
	`, resourceID, domain.RequestMatched).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count matched requests: %w", err)
	}
	return count, nil
}
