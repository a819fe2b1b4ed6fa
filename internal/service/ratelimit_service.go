package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relief-ussd/internal/domain"
	"relief-ussd/internal/store"

	"go.uber.org/zap"
)

// ErrRateLimited means the phone exhausted its allocation budget for the
// current window. Recoverable for the caller once the window elapses,
// terminal for the current session.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitService gates inbound interactions and allocations per
// phone_hash. Counters live in Redis with window-aligned expiry, so state
// is bounded and survives process restarts within the window.
//
// Two separate policies, deliberately kept distinct (flag vs. block):
//   - completed allocations per window: hard deny above the limit;
//   - distinct session starts per short window: advisory only, recorded
//     as SUSPICIOUS_ACTIVITY for downstream review.
type RateLimitService struct {
	windows store.Windows
	ledger  *Ledger

	maxAllocations int
	allocWindow    time.Duration
	maxStarts      int
	startWindow    time.Duration

	logger *zap.Logger
}

func NewRateLimitService(windows store.Windows, ledger *Ledger, maxAllocations int, allocWindow time.Duration, maxStarts int, startWindow time.Duration, logger *zap.Logger) *RateLimitService {
	return &RateLimitService{
		windows:        windows,
		ledger:         ledger,
		maxAllocations: maxAllocations,
		allocWindow:    allocWindow,
		maxStarts:      maxStarts,
		startWindow:    startWindow,
		logger:         logger,
	}
}

func allocKey(phoneHash string) string { return "ratelimit:alloc:" + phoneHash }
func startKey(phoneHash string) string { return "ratelimit:starts:" + phoneHash }

// Check gates one interaction. On deny it records RATE_LIMIT_EXCEEDED in
// the ledger and returns ErrRateLimited; the caller answers with the
// fixed terminal reply and does not advance the session.
func (s *RateLimitService) Check(ctx context.Context, phoneHash, sessionID string) error {
	n, err := s.windows.Count(ctx, allocKey(phoneHash))
	if err != nil {
		return fmt.Errorf("rate limit check failed: %w", err)
	}
	if n < int64(s.maxAllocations) {
		return nil
	}

	if _, err := s.ledger.Append(ctx, domain.AuditRateLimitExceeded, phoneHash, sessionID, map[string]any{
		"allocations": n,
		"limit":       s.maxAllocations,
		"window_min":  int(s.allocWindow.Minutes()),
	}); err != nil {
		return err
	}
	s.logger.Info("rate limit exceeded",
		zap.String("phone_hash", phoneHash),
		zap.Int64("allocations", n),
	)
	return ErrRateLimited
}

// RecordAllocation counts one completed allocation against the phone's
// window. Called only after the allocation committed.
func (s *RateLimitService) RecordAllocation(ctx context.Context, phoneHash string) error {
	if _, err := s.windows.Incr(ctx, allocKey(phoneHash), s.allocWindow); err != nil {
		return fmt.Errorf("failed to record allocation: %w", err)
	}
	return nil
}

// RecordSessionStart feeds the fraud heuristic: more than maxStarts
// session starts inside startWindow flags the phone. Advisory only, a
// flagged phone still proceeds; duress retries and abuse look alike and
// the distinction is left to downstream review.
func (s *RateLimitService) RecordSessionStart(ctx context.Context, phoneHash, sessionID string) error {
	n, err := s.windows.Incr(ctx, startKey(phoneHash), s.startWindow)
	if err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}
	if n <= int64(s.maxStarts) {
		return nil
	}

	if _, err := s.ledger.Append(ctx, domain.AuditSuspiciousActivity, phoneHash, sessionID, map[string]any{
		"session_starts": n,
		"threshold":      s.maxStarts,
		"window_min":     int(s.startWindow.Minutes()),
	}); err != nil {
		return err
	}
	s.logger.Warn("suspicious session start rate",
		zap.String("phone_hash", phoneHash),
		zap.Int64("session_starts", n),
	)
	return nil
}
