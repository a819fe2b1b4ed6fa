package repository

import (
	"context"
	"database/sql"
	"fmt"

	"relief-ussd/internal/domain"
)

// PostgresAuditRepository 审计日志Repository实现
// Only INSERT ... RETURNING seq; the table has no update path in the core.
type PostgresAuditRepository struct {
	db *sql.DB
}

func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

// 确保实现了接口
var _ AuditRepository = (*PostgresAuditRepository)(nil)

// Append 追加一条审计日志并返回序列号
func (r *PostgresAuditRepository) Append(ctx context.Context, entry *domain.AuditLogEntry) (int64, error) {
	details := entry.Details
	if len(details) == 0 {
		details = []byte(`{}`)
	}

	var seq int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO audit_logs (action, phone_hash, session_id, details, created_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4::jsonb, $5)
		RETURNING seq
	`,
		entry.Action, entry.PhoneHash, entry.SessionID,
		string(details), entry.CreatedAt,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to append audit log: %w", err)
	}
	entry.Seq = seq
	return seq, nil
}
