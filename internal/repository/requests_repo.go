package repository

import (
	"context"

	"relief-ussd/internal/domain"
)

// RequestsRepository 紧急请求Repository接口
type RequestsRepository interface {
	// CreateRequest 创建紧急请求（MATCHED或EXHAUSTED）
	CreateRequest(ctx context.Context, request *domain.EmergencyRequest) error

	// GetRequestByReference 根据reference_number获取请求
	GetRequestByReference(ctx context.Context, reference string) (*domain.EmergencyRequest, error)

	// GetRequestBySession returns the request committed by the given
	// session, if any. A gateway retry of a confirm whose session commit
	// failed is answered from this record instead of allocating again.
	GetRequestBySession(ctx context.Context, sessionID string) (*domain.EmergencyRequest, error)

	// ReferenceExists reports whether a reference number is already in
	// use. The ledger's reference generator checks here before issuing.
	ReferenceExists(ctx context.Context, reference string) (bool, error)

	// CountMatchedByResource returns how many requests are matched to the
	// resource; used to audit the capacity bookkeeping invariant.
	CountMatchedByResource(ctx context.Context, resourceID string) (int, error)
}
