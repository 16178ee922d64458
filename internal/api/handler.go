package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"risk-core/internal/admission"
	"risk-core/internal/audit"
	"risk-core/internal/events"
	"risk-core/internal/ledger"
	"risk-core/internal/monitor"
	"risk-core/internal/risk"
	"risk-core/pkg/db"
)

// Options carries everything the HTTP surface reads from or mutates.
type Options struct {
	Engine    *risk.Engine
	Ledger    *ledger.Ledger
	Admission *admission.Service
	Audit     *audit.Trail
	Metrics   *monitor.RiskMetrics
	Queries   *db.Queries // nil disables /api/trades/daily
	Bus       *events.Bus
	JWTSecret string // empty leaves admin routes open

	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

// Server wires HTTP endpoints around the risk engine.
type Server struct {
	Router    *gin.Engine
	Engine    *risk.Engine
	Ledger    *ledger.Ledger
	Admission *admission.Service
	Audit     *audit.Trail
	Metrics   *monitor.RiskMetrics
	Queries   *db.Queries
	Bus       *events.Bus
	JWTSecret string

	log     zerolog.Logger
	limiter *ipLimiter
	http    *http.Server
}

func NewServer(opts Options) *Server {
	r := gin.New()
	s := &Server{
		Router:    r,
		Engine:    opts.Engine,
		Ledger:    opts.Ledger,
		Admission: opts.Admission,
		Audit:     opts.Audit,
		Metrics:   opts.Metrics,
		Queries:   opts.Queries,
		Bus:       opts.Bus,
		JWTSecret: opts.JWTSecret,
		log:       opts.Logger,
		limiter:   newIPLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(s.log, s.Metrics))
	r.Use(RateLimitMiddleware(s.limiter, s.log))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(CORSMiddleware())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/healthz", s.health)
	s.Router.GET("/ws/audit", s.stream(events.EventRiskAudit))
	s.Router.GET("/ws/trades", s.stream(events.EventTradeRecorded))
	s.Router.GET("/ws/signals", s.stream(events.EventSignalAdmitted, events.EventSignalBlocked))
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	api := s.Router.Group("/api")
	{
		api.GET("/metrics/summary", s.getMetricsSummary)

		api.POST("/trades/record", s.recordTrade)
		api.GET("/trades/stats", s.getTradeStats)
		api.GET("/trades/daily", s.getDailyPnL)

		api.POST("/signals/enqueue", s.enqueueSignal)

		admin := api.Group("/risk")
		admin.Use(AuthMiddleware(s.JWTSecret))
		{
			admin.POST("/killswitch", s.setKillSwitch)
			admin.GET("/drawdown-limit", s.getDrawdownLimit)
			admin.POST("/drawdown-limit", s.setDrawdownLimit)
			admin.DELETE("/drawdown-limit", s.clearDrawdownLimit)
			admin.POST("/symbol-limit", s.setSymbolLimit)
			admin.GET("/symbol-limit/:symbol", s.getSymbolLimit)
			admin.GET("/status", s.getRiskStatus)
			admin.GET("/audit", s.getRecentAudit)
			admin.GET("/audit/export", s.exportAudit)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
