package repository

import (
	"context"
	"time"

	"relief-ussd/internal/domain"
)

// SessionsRepository 会话Repository接口
// 使用强类型领域模型，不使用map[string]any
// The repository only stores and fetches; state-machine rules live in the
// service layer. Live-session uniqueness per phone is enforced here
// because it is a storage invariant.
type SessionsRepository interface {
	// GetSession 根据session_id获取会话
	// Returns ErrSessionNotFound when no row exists.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// CreateSession 创建新会话
	// Returns ErrPhoneSessionActive if the phone already has a live
	// (non-terminal, non-expired) session under a different session_id.
	CreateSession(ctx context.Context, session *domain.Session) error

	// UpdateSession 更新会话（state、pending字段、replay记录、TTL）
	UpdateSession(ctx context.Context, session *domain.Session) error

	// DeleteSession 删除会话（终态或过期后清理）
	DeleteSession(ctx context.Context, sessionID string) error

	// DeleteExpired removes sessions whose TTL elapsed before now.
	// Correctness never depends on this; it is the opportunistic sweep.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
