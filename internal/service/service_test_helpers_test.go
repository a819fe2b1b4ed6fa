package service

import (
	"testing"
	"time"

	"relief-ussd/internal/repository"
	"relief-ussd/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// testStack wires the full core over the in-memory repositories and a
// miniredis-backed limiter, the way main.go wires production.
type testStack struct {
	mr        *miniredis.Miniredis
	kv        *store.RedisKV
	sessions  *repository.MemorySessionsRepo
	resources *repository.MemoryResourcesRepo
	requests  *repository.MemoryRequestsRepo
	audit     *repository.MemoryAuditRepo
	ledger    *Ledger
	limiter   *RateLimitService
	matcher   *MatchingService
	svc       *SessionService
}

func newTestStack(t *testing.T) *testStack {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	kv := store.NewRedisKV(redisClient)
	sessions := repository.NewMemorySessionsRepo()
	resources := repository.NewMemoryResourcesRepo()
	requests := repository.NewMemoryRequestsRepo()
	audit := repository.NewMemoryAuditRepo()
	logger := zap.NewNop()

	ledger := NewLedger(audit, requests, logger)
	limiter := NewRateLimitService(kv, ledger, 3, time.Hour, 2, 10*time.Minute, logger)
	matcher := NewMatchingService(resources, requests, ledger, 3,
		map[string]string{"ganaja": "lokoja"}, logger)
	svc := NewSessionService(sessions, limiter, matcher, ledger,
		NopNotifier{}, nil, 10*time.Minute, 3, logger)

	return &testStack{
		mr:        mr,
		kv:        kv,
		sessions:  sessions,
		resources: resources,
		requests:  requests,
		audit:     audit,
		ledger:    ledger,
		limiter:   limiter,
		matcher:   matcher,
		svc:       svc,
	}
}
