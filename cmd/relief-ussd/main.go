package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relief-ussd/internal/config"
	"relief-ussd/internal/database"
	httpapi "relief-ussd/internal/http"
	"relief-ussd/internal/logger"
	"relief-ussd/internal/repository"
	"relief-ussd/internal/service"
	"relief-ussd/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "relief-ussd")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	kv := store.NewRedisKV(redisClient)

	// Repositories: Postgres when available, in-memory fallback for local
	// dev so the service still answers callbacks.
	var (
		db        *sql.DB
		sessions  repository.SessionsRepository
		resources repository.ResourcesRepository
		requests  repository.RequestsRepository
		audit     repository.AuditRepository
	)
	if cfg.DBEnabled {
		if d, dbErr := database.NewPostgresDB(&cfg.Database); dbErr == nil {
			db = d
			log.Info("DB enabled for relief-ussd")
		} else {
			log.Warn("DB enabled but connection failed, falling back to in-memory repositories", zap.Error(dbErr))
		}
	}
	if db != nil {
		sessions = repository.NewPostgresSessionsRepository(db)
		resources = repository.NewPostgresResourcesRepository(db)
		requests = repository.NewPostgresRequestsRepository(db)
		audit = repository.NewPostgresAuditRepository(db)
	} else {
		sessions = repository.NewMemorySessionsRepo()
		resources = repository.NewMemoryResourcesRepo()
		requests = repository.NewMemoryRequestsRepo()
		audit = repository.NewMemoryAuditRepo()
	}

	ledger := service.NewLedger(audit, requests, log)
	limiter := service.NewRateLimitService(kv, ledger,
		cfg.RateLimit.MaxAllocations, cfg.RateLimit.Window,
		cfg.Fraud.MaxSessionStarts, cfg.Fraud.Window,
		log,
	)
	matcher := service.NewMatchingService(resources, requests, ledger,
		cfg.Matching.MaxAttempts, cfg.Matching.Aliases, log)

	var notifier service.Notifier = service.NopNotifier{}
	if cfg.SMS.Enabled {
		notifier = service.NewSMSClient(cfg.SMS, log)
	}

	sessionSvc := service.NewSessionService(sessions, limiter, matcher, ledger,
		notifier, kv, cfg.Session.TTL, cfg.Session.MaxInvalidAttempts, log)

	router := httpapi.NewRouter(log)
	router.RegisterUSSDRoutes(httpapi.NewUSSDHandler(sessionSvc, cfg.PhoneSalt, log))
	router.RegisterHealthRoutes(httpapi.NewHealthHandler(db, redisClient, log))

	server := service.NewServer(cfg.HTTP.Addr, router, log)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Opportunistic sweep: lazy expiry in Advance keeps correctness, this
	// just keeps the sessions table small.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.Session.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n, err := sessionSvc.SweepExpired(sweepCtx); err != nil {
					log.Warn("session sweep failed", zap.Error(err))
				} else if n > 0 {
					log.Info("swept expired sessions", zap.Int("count", n))
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	if db != nil {
		_ = database.Close(db)
	}
	_ = redisClient.Close()
}
