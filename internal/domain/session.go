package domain

import "time"

// Session states. A session walks ROOT -> SELECT_SERVICE -> ENTER_LOCATION
// -> CONFIRM and ends in exactly one of the terminal states.
const (
	StateRoot          = "ROOT"
	StateSelectService = "SELECT_SERVICE"
	StateEnterLocation = "ENTER_LOCATION"
	StateConfirm       = "CONFIRM"
	StateComplete      = "COMPLETE"
	StateAborted       = "ABORTED"
	StateExpired       = "EXPIRED"
)

// Session 会话领域模型（对应 sessions 表）
// session_id comes from the telecom gateway; the core never stores a raw
// phone number, only its hash.
type Session struct {
	// 主键
	SessionID string `db:"session_id"` // VARCHAR(100), PRIMARY KEY

	PhoneHash string `db:"phone_hash"` // CHAR(64), SHA-256 hex
	State     string `db:"state"`      // VARCHAR(20)

	// Pending request data collected across menu steps
	PendingServiceType string `db:"pending_service_type"` // VARCHAR(20), '' until selected
	PendingLocation    string `db:"pending_location"`     // VARCHAR(200), '' until entered

	// Replay / retry bookkeeping
	InvalidAttempts   int    `db:"invalid_attempts"`
	LastInputSig      string `db:"last_input_sig"` // sha256 of the cumulative gateway text
	LastReply         string `db:"last_reply"`
	LastReplyContinue bool   `db:"last_reply_continue"`

	CreatedAt      time.Time `db:"created_at"`
	LastActivityAt time.Time `db:"last_activity_at"`
	ExpiresAt      time.Time `db:"expires_at"`
}

// Terminal reports whether the session can no longer be advanced.
func (s *Session) Terminal() bool {
	switch s.State {
	case StateComplete, StateAborted, StateExpired:
		return true
	}
	return false
}

// ExpiredAt reports whether the session's TTL has elapsed at the given time.
func (s *Session) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Live reports whether the session still counts against the
// one-live-session-per-phone invariant.
func (s *Session) Live(now time.Time) bool {
	return !s.Terminal() && !s.ExpiredAt(now)
}
