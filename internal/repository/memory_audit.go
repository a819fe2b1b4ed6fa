package repository

import (
	"context"
	"sync"

	"relief-ussd/internal/domain"
)

// MemoryAuditRepo in-memory append-only ledger. Entries exposes a copy of
// the log so tests can assert on what was recorded.
type MemoryAuditRepo struct {
	mu      sync.Mutex
	nextSeq int64
	entries []domain.AuditLogEntry
}

func NewMemoryAuditRepo() *MemoryAuditRepo {
	return &MemoryAuditRepo{nextSeq: 1}
}

var _ AuditRepository = (*MemoryAuditRepo)(nil)

func (r *MemoryAuditRepo) Append(_ context.Context, entry *domain.AuditLogEntry) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.Seq = r.nextSeq
	r.nextSeq++
	r.entries = append(r.entries, *entry)
	return entry.Seq, nil
}

// Entries returns a snapshot of the ledger in append order.
func (r *MemoryAuditRepo) Entries() []domain.AuditLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.AuditLogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
