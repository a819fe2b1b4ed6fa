package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config relief-ussd（USSD 核心服务）配置
type Config struct {
	HTTP struct {
		Addr string
	}
	DBEnabled bool
	Database  DatabaseConfig
	Redis     struct {
		Addr     string
		Password string
		DB       int
	}
	Log struct {
		Level  string
		Format string
	}

	// PhoneSalt is mixed into the SHA-256 digest of inbound phone numbers.
	// The raw number never crosses the adapter boundary.
	PhoneSalt string

	Session struct {
		TTL                time.Duration
		MaxInvalidAttempts int
		SweepInterval      time.Duration
	}

	// Rate limiting and fraud thresholds are deliberately configuration,
	// not constants; operators tune them per deployment.
	RateLimit struct {
		MaxAllocations int
		Window         time.Duration
	}
	Fraud struct {
		MaxSessionStarts int
		Window           time.Duration
	}

	Matching struct {
		MaxAttempts int
		// Aliases maps normalized location spellings onto a canonical
		// token, e.g. "ganaja=lokoja,felele=lokoja".
		Aliases map[string]string
	}

	SMS SMSConfig
}

// DatabaseConfig PostgreSQL 连接配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 返回 PostgreSQL 连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// SMSConfig 短信网关配置（Africa's Talking 风格 HTTP API）
type SMSConfig struct {
	Enabled  bool
	BaseURL  string
	Username string
	APIKey   string
	Sender   string
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	// Default to true for local dev: if DB is unavailable, relief-ussd
	// falls back to the in-memory repositories.
	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "relief")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "20"), 20)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.PhoneSalt = getEnv("PHONE_SALT", "relief-dev-salt")

	cfg.Session.TTL = minutes(getEnv("SESSION_TTL_MINUTES", "10"), 10)
	cfg.Session.MaxInvalidAttempts = parseInt(getEnv("SESSION_MAX_INVALID", "3"), 3)
	cfg.Session.SweepInterval = minutes(getEnv("SESSION_SWEEP_MINUTES", "5"), 5)

	cfg.RateLimit.MaxAllocations = parseInt(getEnv("RATE_LIMIT_MAX", "3"), 3)
	cfg.RateLimit.Window = minutes(getEnv("RATE_LIMIT_WINDOW_MINUTES", "60"), 60)

	cfg.Fraud.MaxSessionStarts = parseInt(getEnv("FRAUD_SESSION_STARTS", "2"), 2)
	cfg.Fraud.Window = minutes(getEnv("FRAUD_WINDOW_MINUTES", "10"), 10)

	cfg.Matching.MaxAttempts = parseInt(getEnv("MATCHING_MAX_ATTEMPTS", "3"), 3)
	cfg.Matching.Aliases = parseAliases(getEnv("LOCATION_ALIASES", ""))

	cfg.SMS.Enabled = getEnv("SMS_ENABLED", "false") == "true"
	cfg.SMS.BaseURL = getEnv("SMS_BASE_URL", "https://api.sandbox.africastalking.com")
	cfg.SMS.Username = getEnv("SMS_USERNAME", "sandbox")
	cfg.SMS.APIKey = getEnv("SMS_API_KEY", "")
	cfg.SMS.Sender = getEnv("SMS_SENDER", "RELIEF")

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func minutes(s string, def int) time.Duration {
	return time.Duration(parseInt(s, def)) * time.Minute
}

// parseAliases parses "spelling=canonical" pairs separated by commas.
// Keys and values are lowercased; malformed pairs are skipped.
func parseAliases(s string) map[string]string {
	aliases := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		from := strings.ToLower(strings.TrimSpace(parts[0]))
		to := strings.ToLower(strings.TrimSpace(parts[1]))
		if from == "" || to == "" {
			continue
		}
		aliases[from] = to
	}
	return aliases
}
