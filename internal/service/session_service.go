package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"relief-ussd/internal/domain"
	"relief-ussd/internal/repository"
	"relief-ussd/internal/store"

	"go.uber.org/zap"
)

// Reply is what goes back to the telecom gateway. Continue=false ends the
// session on the handset.
type Reply struct {
	Continue bool
	Text     string
}

// User-facing texts. The gateway adds the CON/END framing.
const (
	msgMenu = "Emergency Relief Service\nSelect service needed:\n1. Shelter\n2. Food\n3. Transport\n0. Exit"

	msgInvalidSelection = "Invalid selection. Please choose:\n1. Shelter\n2. Food\n3. Transport\n0. Exit"
	msgInvalidLocation  = "Please enter a valid location:"
	msgInvalidConfirm   = "Please choose:\n1. Yes\n2. No"

	msgExit          = "Thank you for using Emergency Relief Service."
	msgCancelled     = "Request cancelled. Stay safe!"
	msgTooManyErrors = "Too many invalid attempts. Please dial again."
	msgRateLimited   = "Too many requests. Please try again later."
	msgPhoneBusy     = "You already have a request in progress. Please finish it first."
	msgSessionBusy   = "Your previous entry is still being processed. Please try again."
	msgUnavailable   = "Service temporarily unavailable. Please try again."
)

const sessionLeaseTTL = 15 * time.Second

// SessionService is the session state machine. Each inbound interaction
// is one atomic advance: per-session serialization via striped in-process
// mutexes plus an optional Redis lease for multi-process deployments.
type SessionService struct {
	sessions repository.SessionsRepository
	limiter  *RateLimitService
	matcher  *MatchingService
	ledger   *Ledger
	notifier Notifier
	locks    store.Locks // nil when running single-process

	ttl        time.Duration
	maxInvalid int

	logger   *zap.Logger
	keyLocks [64]sync.Mutex
}

func NewSessionService(sessions repository.SessionsRepository, limiter *RateLimitService, matcher *MatchingService, ledger *Ledger, notifier Notifier, locks store.Locks, ttl time.Duration, maxInvalid int, logger *zap.Logger) *SessionService {
	if maxInvalid <= 0 {
		maxInvalid = 3
	}
	return &SessionService{
		sessions:   sessions,
		limiter:    limiter,
		matcher:    matcher,
		ledger:     ledger,
		notifier:   notifier,
		locks:      locks,
		ttl:        ttl,
		maxInvalid: maxInvalid,
		logger:     logger,
	}
}

// Advance interprets one inbound interaction against the session's state.
// text is the gateway's cumulative input ("1*Lokoja*..."); the signature
// of that whole string is what makes retried deliveries idempotent.
func (s *SessionService) Advance(ctx context.Context, sessionID, phoneHash, text string) (Reply, error) {
	if sessionID == "" || phoneHash == "" {
		return Reply{}, fmt.Errorf("session_id and phone_hash are required")
	}

	mu := s.keyLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	if s.locks != nil {
		ok, err := s.locks.Acquire(ctx, "lock:session:"+sessionID, sessionLeaseTTL)
		if err != nil {
			return Reply{}, fmt.Errorf("failed to acquire session lease: %w", err)
		}
		if !ok {
			// Another process is mid-advance on this session; answer
			// without touching state.
			return Reply{Continue: true, Text: msgSessionBusy}, nil
		}
		defer func() {
			if err := s.locks.Release(ctx, "lock:session:"+sessionID); err != nil {
				s.logger.Warn("failed to release session lease", zap.Error(err))
			}
		}()
	}

	now := time.Now().UTC()
	sig := inputSignature(text)

	sess, err := s.loadOrStart(ctx, sessionID, phoneHash, now, sig)
	if err != nil {
		if errors.Is(err, repository.ErrPhoneSessionActive) {
			return Reply{Continue: false, Text: msgPhoneBusy}, nil
		}
		return Reply{}, err
	}

	// Idempotent replay: identical cumulative input against an already
	// committed advance returns the recorded reply, no ledger entry.
	if sess.LastInputSig == sig && sess.LastReply != "" {
		return Reply{Continue: sess.LastReplyContinue, Text: sess.LastReply}, nil
	}

	if err := s.limiter.Check(ctx, phoneHash, sessionID); err != nil {
		if errors.Is(err, ErrRateLimited) {
			return s.commit(ctx, sess, domain.AuditSessionAborted, domain.StateAborted,
				map[string]any{"reason": "rate_limited"},
				Reply{Continue: false, Text: msgRateLimited}, sig, now)
		}
		return Reply{}, err
	}

	token := lastToken(text)

	switch sess.State {
	case domain.StateRoot:
		return s.advanceRoot(ctx, sess, token, sig, now)
	case domain.StateSelectService:
		return s.advanceSelectService(ctx, sess, token, sig, now)
	case domain.StateEnterLocation:
		return s.advanceEnterLocation(ctx, sess, token, sig, now)
	case domain.StateConfirm:
		return s.advanceConfirm(ctx, sess, token, sig, now)
	default:
		return Reply{}, fmt.Errorf("session %s in unexpected state %s", sessionID, sess.State)
	}
}

// loadOrStart fetches the session, lazily expiring stale ones, and starts
// a fresh ROOT session when none is live.
func (s *SessionService) loadOrStart(ctx context.Context, sessionID, phoneHash string, now time.Time, sig string) (*domain.Session, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return nil, err
	}

	if sess != nil && sess.ExpiredAt(now) && !sess.Terminal() {
		// Expiry is itself a transition and gets its ledger entry.
		if _, err := s.ledger.Append(ctx, domain.AuditSessionExpired, sess.PhoneHash, sess.SessionID, map[string]any{
			"from": sess.State,
			"to":   domain.StateExpired,
		}); err != nil {
			return nil, err
		}
		if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
			return nil, err
		}
		sess = nil
	}

	if sess != nil && sess.Terminal() {
		// A terminal session only answers replays; anything else starts over.
		if sess.LastInputSig != sig {
			if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
				return nil, err
			}
			sess = nil
		}
	}

	if sess != nil {
		return sess, nil
	}

	sess = &domain.Session{
		SessionID:      sessionID,
		PhoneHash:      phoneHash,
		State:          domain.StateRoot,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	if _, err := s.ledger.Append(ctx, domain.AuditSessionStarted, phoneHash, sessionID, nil); err != nil {
		return nil, err
	}
	if err := s.limiter.RecordSessionStart(ctx, phoneHash, sessionID); err != nil {
		// Advisory path; the session itself is fine.
		s.logger.Warn("failed to record session start", zap.Error(err))
	}
	return sess, nil
}

// ROOT accepts any input and emits the menu.
func (s *SessionService) advanceRoot(ctx context.Context, sess *domain.Session, token, sig string, now time.Time) (Reply, error) {
	sess.State = domain.StateSelectService
	return s.commit(ctx, sess, domain.AuditStateTransition, domain.StateRoot,
		map[string]any{"input": sanitizeInput(token)},
		Reply{Continue: true, Text: msgMenu}, sig, now)
}

var menuServices = map[string]string{
	"1": domain.ServiceShelter,
	"2": domain.ServiceFood,
	"3": domain.ServiceTransport,
}

func (s *SessionService) advanceSelectService(ctx context.Context, sess *domain.Session, token, sig string, now time.Time) (Reply, error) {
	if token == "0" {
		sess.State = domain.StateAborted
		return s.commit(ctx, sess, domain.AuditSessionAborted, domain.StateSelectService,
			map[string]any{"reason": "user_exit"},
			Reply{Continue: false, Text: msgExit}, sig, now)
	}

	serviceType, ok := menuServices[token]
	if !ok {
		return s.rejectInput(ctx, sess, domain.StateSelectService, token, msgInvalidSelection, sig, now)
	}

	sess.PendingServiceType = serviceType
	sess.State = domain.StateEnterLocation
	sess.InvalidAttempts = 0
	prompt := fmt.Sprintf("You selected: %s\nPlease enter your location (e.g., Lokoja, Ganaja):",
		titleCase(serviceType))
	return s.commit(ctx, sess, domain.AuditStateTransition, domain.StateSelectService,
		map[string]any{"input": sanitizeInput(token), "service_type": serviceType},
		Reply{Continue: true, Text: prompt}, sig, now)
}

func (s *SessionService) advanceEnterLocation(ctx context.Context, sess *domain.Session, token, sig string, now time.Time) (Reply, error) {
	location := strings.TrimSpace(token)
	if location == "" {
		return s.rejectInput(ctx, sess, domain.StateEnterLocation, token, msgInvalidLocation, sig, now)
	}

	sess.PendingLocation = location
	sess.State = domain.StateConfirm
	sess.InvalidAttempts = 0
	summary := fmt.Sprintf("Confirm your request:\n%s in %s\n1. Yes\n2. No",
		strings.ToUpper(sess.PendingServiceType), location)
	return s.commit(ctx, sess, domain.AuditStateTransition, domain.StateEnterLocation,
		map[string]any{"location": sanitizeInput(location)},
		Reply{Continue: true, Text: summary}, sig, now)
}

func (s *SessionService) advanceConfirm(ctx context.Context, sess *domain.Session, token, sig string, now time.Time) (Reply, error) {
	switch strings.ToLower(token) {
	case "1", "yes", "y":
		return s.confirmAndAllocate(ctx, sess, sig, now)
	case "2", "no", "n":
		sess.State = domain.StateAborted
		return s.commit(ctx, sess, domain.AuditSessionAborted, domain.StateConfirm,
			map[string]any{"reason": "user_cancel"},
			Reply{Continue: false, Text: msgCancelled}, sig, now)
	default:
		return s.rejectInput(ctx, sess, domain.StateConfirm, token, msgInvalidConfirm, sig, now)
	}
}

func (s *SessionService) confirmAndAllocate(ctx context.Context, sess *domain.Session, sig string, now time.Time) (Reply, error) {
	// A confirm whose session commit failed has already spent capacity and
	// written its request; a gateway retry must be answered from that
	// record, not by allocating again.
	result, err := s.matcher.PriorOutcome(ctx, sess.SessionID)
	if result == nil && err == nil {
		// Re-check at the allocation boundary; the budget may have been
		// spent by a parallel session since the advance started.
		if lerr := s.limiter.Check(ctx, sess.PhoneHash, sess.SessionID); lerr != nil {
			if errors.Is(lerr, ErrRateLimited) {
				return s.commit(ctx, sess, domain.AuditSessionAborted, domain.StateConfirm,
					map[string]any{"reason": "rate_limited"},
					Reply{Continue: false, Text: msgRateLimited}, sig, now)
			}
			return Reply{}, lerr
		}

		result, err = s.matcher.Allocate(ctx, sess.PendingServiceType, sess.PendingLocation, sess.PhoneHash, sess.SessionID)
		if err == nil {
			if rerr := s.limiter.RecordAllocation(ctx, sess.PhoneHash); rerr != nil {
				s.logger.Warn("failed to record allocation in limiter", zap.Error(rerr))
			}
		}
	}

	switch {
	case err == nil:
		sess.State = domain.StateComplete
		text := fmt.Sprintf("Request confirmed!\nReference: %s\nProvider: %s\nYou will receive an SMS confirmation shortly.",
			result.ReferenceNumber, result.ResourceName)
		reply, commitErr := s.commit(ctx, sess, domain.AuditStateTransition, domain.StateConfirm,
			map[string]any{"outcome": "matched", "reference": result.ReferenceNumber, "resource_id": result.ResourceID},
			Reply{Continue: false, Text: text}, sig, now)
		if commitErr != nil {
			return Reply{}, commitErr
		}
		s.notify(OutcomeNotification{
			PhoneHash:       sess.PhoneHash,
			ReferenceNumber: result.ReferenceNumber,
			Outcome:         "MATCHED",
			ServiceType:     sess.PendingServiceType,
			Location:        sess.PendingLocation,
			ResourceName:    result.ResourceName,
		})
		return reply, nil

	case errors.Is(err, ErrAllocationExhausted):
		sess.State = domain.StateComplete
		text := fmt.Sprintf("Sorry, no %s available near %s right now. Please try again later.",
			sess.PendingServiceType, sess.PendingLocation)
		reply, commitErr := s.commit(ctx, sess, domain.AuditStateTransition, domain.StateConfirm,
			map[string]any{"outcome": "exhausted"},
			Reply{Continue: false, Text: text}, sig, now)
		if commitErr != nil {
			return Reply{}, commitErr
		}
		s.notify(OutcomeNotification{
			PhoneHash:   sess.PhoneHash,
			Outcome:     "EXHAUSTED",
			ServiceType: sess.PendingServiceType,
			Location:    sess.PendingLocation,
		})
		return reply, nil

	case errors.Is(err, ErrValidationRejected):
		sess.State = domain.StateAborted
		return s.commit(ctx, sess, domain.AuditSessionAborted, domain.StateConfirm,
			map[string]any{"reason": "allocation_rejected"},
			Reply{Continue: false, Text: msgUnavailable}, sig, now)

	default:
		return Reply{}, err
	}
}

// rejectInput re-prompts after invalid input, aborting once the retry
// budget is spent. Rejected input produces a ledger entry like any other
// transition.
func (s *SessionService) rejectInput(ctx context.Context, sess *domain.Session, from, token, prompt, sig string, now time.Time) (Reply, error) {
	sess.InvalidAttempts++
	if sess.InvalidAttempts >= s.maxInvalid {
		sess.State = domain.StateAborted
		return s.commit(ctx, sess, domain.AuditSessionAborted, from,
			map[string]any{"reason": "invalid_input_budget", "input": sanitizeInput(token)},
			Reply{Continue: false, Text: msgTooManyErrors}, sig, now)
	}
	return s.commit(ctx, sess, domain.AuditInputRejected, from,
		map[string]any{"input": sanitizeInput(token), "attempt": sess.InvalidAttempts},
		Reply{Continue: true, Text: prompt}, sig, now)
}

// commit is the single write path for an advance: ledger entry first,
// then the session row including the replay signature and reply. Fails
// closed: without a durable audit record the transition did not happen.
func (s *SessionService) commit(ctx context.Context, sess *domain.Session, action, fromState string, details map[string]any, reply Reply, sig string, now time.Time) (Reply, error) {
	if details == nil {
		details = map[string]any{}
	}
	details["from"] = fromState
	details["to"] = sess.State

	if _, err := s.ledger.Append(ctx, action, sess.PhoneHash, sess.SessionID, details); err != nil {
		return Reply{}, err
	}

	sess.LastInputSig = sig
	sess.LastReply = reply.Text
	sess.LastReplyContinue = reply.Continue
	sess.LastActivityAt = now
	sess.ExpiresAt = now.Add(s.ttl)
	if err := s.sessions.UpdateSession(ctx, sess); err != nil {
		return Reply{}, fmt.Errorf("failed to commit session advance: %w", err)
	}
	return reply, nil
}

func (s *SessionService) notify(n OutcomeNotification) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.notifier.NotifyOutcome(ctx, n)
	}()
}

// SweepExpired removes expired sessions. Opportunistic only; lazy expiry
// in Advance keeps correctness without it.
func (s *SessionService) SweepExpired(ctx context.Context) (int, error) {
	return s.sessions.DeleteExpired(ctx, time.Now().UTC())
}

func (s *SessionService) keyLock(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &s.keyLocks[h.Sum32()%uint32(len(s.keyLocks))]
}

// lastToken extracts the newest entry from the gateway's cumulative
// *-separated input.
func lastToken(text string) string {
	parts := strings.Split(text, "*")
	return strings.TrimSpace(parts[len(parts)-1])
}

func inputSignature(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// sanitizeInput bounds what user text ends up in the ledger. Inputs are
// menu tokens and place names; phone numbers never reach this layer.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}
