package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"risk-core/internal/monitor"
)

const requestIDKey = "RequestID"

// ipLimiter hands out one token bucket per client IP. Buckets are reset every sweep.
type ipLimiter struct {
	mu        sync.RWMutex
	limiters  map[string]*rate.Limiter
	rps       rate.Limit
	burst     int
	sweep     time.Duration
	lastReset time.Time
}

func newIPLimiter(rps float64, burst int) *ipLimiter {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 50
	}
	return &ipLimiter{
		limiters:  make(map[string]*rate.Limiter),
		rps:       rate.Limit(rps),
		burst:     burst,
		sweep:     5 * time.Minute,
		lastReset: time.Now(),
	}
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[ip]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastReset) > l.sweep {
		l.limiters = make(map[string]*rate.Limiter)
		l.lastReset = time.Now()
	}
	// Check again in case another goroutine created it
	if limiter, exists := l.limiters[ip]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(l.rps, l.burst)
	l.limiters[ip] = limiter
	return limiter
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware adds unique request ID for tracking
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// RateLimitMiddleware prevents API abuse with per-IP rate limiting
func RateLimitMiddleware(l *ipLimiter, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !l.get(ip).Allow() {
			log.Warn().Str("ip", ip).Msg("rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"ok":      false,
				"code":    "RATE_LIMITED",
				"error":   "rate limit exceeded",
				"message": "too many requests, please slow down",
			})
			return
		}
		c.Next()
	}
}

// TimeoutMiddleware attaches a deadline to the request context. Handlers that
// block (the queue hand-off) observe it. Websocket upgrades are exempt.
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if websocket.IsWebSocketUpgrade(c.Request) {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogger logs all API requests with timing and status; optionally records metrics.
func RequestLogger(log zerolog.Logger, metrics *monitor.RiskMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		if metrics != nil {
			metrics.ObserveHTTP(c.Request.Method, c.FullPath(), status, latency)
		}

		evt := log.Info()
		if status >= http.StatusInternalServerError {
			evt = log.Error()
		}
		evt.Str("request_id", c.GetString(requestIDKey)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("api request")
	}
}
