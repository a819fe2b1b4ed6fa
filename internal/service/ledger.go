package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"relief-ussd/internal/domain"
	"relief-ussd/internal/repository"

	"go.uber.org/zap"
)

// Reference format: ER + yymmdd + 6 uppercase hex chars, e.g. ER260828A3F01B.
// Uniqueness comes from the durable check against stored requests, not
// from the generator.
const (
	referencePrefix   = "ER"
	referenceAttempts = 5
)

// Ledger is the append-only audit log plus reference-number issuance.
// Every state transition and allocation decision goes through Append; a
// failed append fails the triggering operation closed.
type Ledger struct {
	audit    repository.AuditRepository
	requests repository.RequestsRepository
	logger   *zap.Logger
}

func NewLedger(audit repository.AuditRepository, requests repository.RequestsRepository, logger *zap.Logger) *Ledger {
	return &Ledger{audit: audit, requests: requests, logger: logger}
}

// Append 追加一条审计日志
// details is marshaled to JSON; nil records an empty object.
func (l *Ledger) Append(ctx context.Context, action, phoneHash, sessionID string, details map[string]any) (int64, error) {
	payload := json.RawMessage(`{}`)
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal audit details: %w", err)
		}
		payload = b
	}

	entry := &domain.AuditLogEntry{
		Action:    action,
		PhoneHash: phoneHash,
		SessionID: sessionID,
		Details:   payload,
		CreatedAt: time.Now().UTC(),
	}
	seq, err := l.audit.Append(ctx, entry)
	if err != nil {
		return 0, fmt.Errorf("audit append failed: %w", err)
	}
	return seq, nil
}

// NewReferenceNumber issues a reference that is unique among stored
// requests, regenerating on collision up to a bounded number of attempts.
func (l *Ledger) NewReferenceNumber(ctx context.Context) (string, error) {
	for i := 0; i < referenceAttempts; i++ {
		ref, err := generateReference(time.Now().UTC())
		if err != nil {
			return "", err
		}
		exists, err := l.requests.ReferenceExists(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("reference uniqueness check failed: %w", err)
		}
		if !exists {
			return ref, nil
		}
		l.logger.Warn("reference number collision, regenerating", zap.String("reference", ref))
	}
	return "", fmt.Errorf("could not generate a unique reference after %d attempts", referenceAttempts)
}

func generateReference(now time.Time) (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return referencePrefix + now.Format("060102") + strings.ToUpper(hex.EncodeToString(buf)), nil
}
