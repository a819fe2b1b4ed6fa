package repository

import (
	"context"

	"relief-ussd/internal/domain"
)

// AuditRepository 审计日志Repository接口
// Append-only: there is deliberately no update or delete. Retention is an
// external, time-driven concern.
type AuditRepository interface {
	// Append stores the entry and returns its storage-assigned sequence
	// number. A failed append must fail the triggering operation.
	Append(ctx context.Context, entry *domain.AuditLogEntry) (int64, error)
}
