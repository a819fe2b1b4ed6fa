package domain

import "time"

// Emergency request statuses. A request is immutable once it reaches a
// terminal status.
const (
	RequestPending   = "PENDING"
	RequestMatched   = "MATCHED"
	RequestExhausted = "EXHAUSTED"
	RequestRejected  = "REJECTED"
)

// EmergencyRequest 紧急请求领域模型（对应 emergency_requests 表）
// One row per completed CONFIRM, whether or not a resource could be
// reserved. The reference number is issued by the audit ledger and is
// unique across unexpired requests.
type EmergencyRequest struct {
	// 主键
	RequestID string `db:"request_id"` // UUID, PRIMARY KEY

	ReferenceNumber string `db:"reference_number"` // VARCHAR(20), UNIQUE
	PhoneHash       string `db:"phone_hash"`       // CHAR(64)
	SessionID       string `db:"session_id"`       // VARCHAR(100), the confirming session
	ServiceType     string `db:"service_type"`
	Location        string `db:"location"`

	// Null until matched; stays null for EXHAUSTED requests.
	MatchedResourceID string `db:"matched_resource_id"`

	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
}
