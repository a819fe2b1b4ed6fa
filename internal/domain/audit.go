package domain

import (
	"encoding/json"
	"time"
)

// Audit actions recorded by the core. The ledger is append-only; nothing
// in the core ever updates or deletes an entry.
const (
	AuditSessionStarted      = "SESSION_STARTED"
	AuditStateTransition     = "STATE_TRANSITION"
	AuditInputRejected       = "INPUT_REJECTED"
	AuditSessionExpired      = "SESSION_EXPIRED"
	AuditSessionAborted      = "SESSION_ABORTED"
	AuditAllocationMatched   = "ALLOCATION_MATCHED"
	AuditAllocationExhausted = "ALLOCATION_EXHAUSTED"
	AuditAllocationRejected  = "ALLOCATION_REJECTED"
	AuditRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	AuditSuspiciousActivity  = "SUSPICIOUS_ACTIVITY"
	AuditResourceReleased    = "RESOURCE_RELEASED"
)

// AuditLogEntry 审计日志领域模型（对应 audit_logs 表）
// Seq is assigned by storage (BIGSERIAL) and is globally monotonic.
type AuditLogEntry struct {
	Seq       int64           `db:"seq"` // BIGSERIAL, PRIMARY KEY
	Action    string          `db:"action"`
	PhoneHash string          `db:"phone_hash"` // nullable, '' when not tied to a caller
	SessionID string          `db:"session_id"` // nullable
	Details   json.RawMessage `db:"details"`    // JSONB
	CreatedAt time.Time       `db:"created_at"`
}
