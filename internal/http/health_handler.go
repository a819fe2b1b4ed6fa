package httpapi

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	db          *sql.DB // nil when running on the in-memory repositories
	redisClient *redis.Client
	logger      *zap.Logger
}

func NewHealthHandler(db *sql.DB, redisClient *redis.Client, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, redisClient: redisClient, logger: logger}
}

// HealthCheckResponse 健康检查响应
type HealthCheckResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// GET /health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Content-Type", "application/json")

	status := "healthy"
	services := map[string]string{}

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			status = "degraded"
			services["postgres"] = "down"
		} else {
			services["postgres"] = "up"
		}
	} else {
		services["postgres"] = "disabled"
	}

	if h.redisClient != nil {
		if err := h.redisClient.Ping(ctx).Err(); err != nil {
			status = "degraded"
			services["redis"] = "down"
		} else {
			services["redis"] = "up"
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(HealthCheckResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Services:  services,
	})
}
