package repository

import "errors"

// Sentinel errors shared by the Postgres and in-memory implementations.
var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrPhoneSessionActive is returned when a second session_id tries to
	// race-start while the phone already has a live session.
	ErrPhoneSessionActive = errors.New("phone already has a live session")
	ErrResourceNotFound   = errors.New("resource not found")
	ErrRequestNotFound    = errors.New("request not found")
)
