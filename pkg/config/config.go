package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the risk core.
type Config struct {
	Port     string
	LogLevel string
	Language string // "en" or "pt"

	// Durable logs
	TradesLogPath   string
	AuditLogPath    string
	AuditBufferSize int

	// SQLite mirror
	DBPath         string
	EnableDBMirror bool

	// Global drawdown limit seed. USD wins over pct/base when both are set.
	MaxDailyDrawdownUSD float64
	MaxDailyDrawdownPct float64
	BaseEquityUSD       float64
	RiskLimitsFile      string

	// Queue collaborator
	QueueMode       string // "memory" (default), "wal", "grpc"
	QueueSize       int
	QueueWALDir     string
	QueueGRPCAddr   string
	QueueGRPCMethod string
	EnqueueTimeout  time.Duration

	// Admin auth
	AdminJWTSecret string

	// HTTP rate limiting
	RateLimitRPS   float64
	RateLimitBurst int
}

// maxAuditBuffer bounds the in-memory audit ring.
const maxAuditBuffer = 500

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	baseEquity := getEnvFloat("BASE_EQUITY_USD", 0)
	if baseEquity <= 0 {
		baseEquity = getEnvFloat("ACCOUNT_EQUITY_USD", 0)
	}

	return &Config{
		Port:                getEnv("PORT", "8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		Language:            strings.ToLower(getEnv("LANGUAGE", "en")),
		TradesLogPath:       getEnv("TRADES_LOG_PATH", "./data/trades.jsonl"),
		AuditLogPath:        getEnv("AUDIT_LOG_PATH", "./data/risk_audit.jsonl"),
		AuditBufferSize:     min(getEnvInt("AUDIT_BUFFER_SIZE", maxAuditBuffer), maxAuditBuffer),
		DBPath:              getEnv("DB_PATH", "./data/risk.db"),
		EnableDBMirror:      getEnv("ENABLE_DB_MIRROR", "true") == "true",
		MaxDailyDrawdownUSD: getEnvFloat("MAX_DAILY_DRAWDOWN_USD", 0),
		MaxDailyDrawdownPct: getEnvFloat("MAX_DAILY_DRAWDOWN_PCT", 0),
		BaseEquityUSD:       baseEquity,
		RiskLimitsFile:      getEnv("RISK_LIMITS_FILE", "./risk_limits.yaml"),
		QueueMode:           strings.ToLower(getEnv("QUEUE_MODE", "memory")),
		QueueSize:           getEnvInt("QUEUE_SIZE", 200),
		QueueWALDir:         getEnv("QUEUE_WAL_DIR", "./data/signal_wal"),
		QueueGRPCAddr:       getEnv("QUEUE_GRPC_ADDR", ""),
		QueueGRPCMethod:     getEnv("QUEUE_GRPC_METHOD", "/signals.v1.SignalQueue/Enqueue"),
		EnqueueTimeout:      time.Duration(getEnvInt("ENQUEUE_TIMEOUT_MS", 2000)) * time.Millisecond,
		AdminJWTSecret:      os.Getenv("ADMIN_JWT_SECRET"),
		RateLimitRPS:        getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:      getEnvInt("RATE_LIMIT_BURST", 50),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
