package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"relief-ussd/internal/domain"
)

// PostgresSessionsRepository 会话Repository实现
type PostgresSessionsRepository struct {
	db *sql.DB
}

func NewPostgresSessionsRepository(db *sql.DB) *PostgresSessionsRepository {
	return &PostgresSessionsRepository{db: db}
}

// 确保实现了接口
var _ SessionsRepository = (*PostgresSessionsRepository)(nil)

const sessionColumns = `
	session_id,
	phone_hash,
	state,
	COALESCE(pending_service_type, '') as pending_service_type,
	COALESCE(pending_location, '') as pending_location,
	invalid_attempts,
	COALESCE(last_input_sig, '') as last_input_sig,
	COALESCE(last_reply, '') as last_reply,
	last_reply_continue,
	created_at,
	last_activity_at,
	expires_at`

func scanSession(row *sql.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.SessionID,
		&s.PhoneHash,
		&s.State,
		&s.PendingServiceType,
		&s.PendingLocation,
		&s.InvalidAttempts,
		&s.LastInputSig,
		&s.LastReply,
		&s.LastReplyContinue,
		&s.CreatedAt,
		&s.LastActivityAt,
		&s.ExpiresAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &s, nil
}

// GetSession 根据session_id获取会话
func (r *PostgresSessionsRepository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = $1`
	return scanSession(r.db.QueryRowContext(ctx, query, sessionID))
}

// CreateSession 创建新会话
// The live-session-per-phone check and the insert run in one transaction
// so two gateways race-starting different session_ids cannot both win.
func (r *PostgresSessionsRepository) CreateSession(ctx context.Context, s *domain.Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT session_id
		FROM sessions
		WHERE phone_hash = $1
		  AND session_id <> $2
		  AND state NOT IN ($3, $4, $5)
		  AND expires_at > $6
		FOR UPDATE
	`, s.PhoneHash, s.SessionID,
		domain.StateComplete, domain.StateAborted, domain.StateExpired,
		time.Now().UTC(),
	).Scan(&existing)
	if err == nil {
		return ErrPhoneSessionActive
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check live sessions: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (
			session_id, phone_hash, state,
			pending_service_type, pending_location,
			invalid_attempts, last_input_sig, last_reply, last_reply_continue,
			created_at, last_activity_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		s.SessionID, s.PhoneHash, s.State,
		s.PendingServiceType, s.PendingLocation,
		s.InvalidAttempts, s.LastInputSig, s.LastReply, s.LastReplyContinue,
		s.CreatedAt, s.LastActivityAt, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return tx.Commit()
}

// UpdateSession 更新会话
func (r *PostgresSessionsRepository) UpdateSession(ctx context.Context, s *domain.Session) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			state = $2,
			pending_service_type = $3,
			pending_location = $4,
			invalid_attempts = $5,
			last_input_sig = $6,
			last_reply = $7,
			last_reply_continue = $8,
			last_activity_at = $9,
			expires_at = $10
		WHERE session_id = $1
	`,
		s.SessionID, s.State,
		s.PendingServiceType, s.PendingLocation,
		s.InvalidAttempts, s.LastInputSig, s.LastReply, s.LastReplyContinue,
		s.LastActivityAt, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession 删除会话
func (r *PostgresSessionsRepository) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired 清理过期会话（后台sweep使用）
func (r *PostgresSessionsRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}
