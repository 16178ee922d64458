package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"risk-core/internal/admission"
	"risk-core/internal/api"
	"risk-core/internal/audit"
	"risk-core/internal/events"
	"risk-core/internal/ledger"
	"risk-core/internal/monitor"
	"risk-core/internal/persistence"
	"risk-core/internal/risk"
	"risk-core/internal/signalqueue"
	"risk-core/pkg/config"
	"risk-core/pkg/db"
	"risk-core/pkg/i18n"
	"risk-core/pkg/logging"
)

func newServeCmd(rc *rootConfig) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Replay the trade log and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != "" {
				rc.cfg.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, rc.cfg, rc.log)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "override PORT")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	bus := events.NewBus()
	metrics := monitor.NewRiskMetrics()
	observers := ledger.Observers{metrics, ledger.BusObserver{Bus: bus}}

	var (
		mirror  *persistence.Mirror
		queries *db.Queries
	)
	if cfg.EnableDBMirror {
		database, err := db.New(cfg.DBPath)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := db.ApplyMigrations(database); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		mirror = persistence.NewMirror(database, logging.Component(log, "mirror"))
		defer func() {
			mirror.Close()
			st := mirror.Stats()
			log.Info().
				Uint64("rows", st.Rows).
				Uint64("batches", st.Batches).
				Uint64("errors", st.Errors).
				Uint64("dropped", st.Dropped).
				Msg("db mirror closed")
		}()
		observers = append(observers, mirror)
		queries = database.Queries()
	}

	journal, err := ledger.OpenJournal(cfg.TradesLogPath)
	if err != nil {
		return err
	}
	l := ledger.New(ledger.Options{
		Journal:  journal,
		Observer: observers,
		Logger:   logging.Component(log, "ledger"),
	})
	summary, err := l.Replay()
	if err != nil {
		return fmt.Errorf("replay trades: %w", err)
	}
	log.Info().
		Str("path", cfg.TradesLogPath).
		Int("ingested", summary.Ingested).
		Int("dedup_skipped", summary.DedupSkipped).
		Int("malformed", summary.Malformed).
		Msg("trade log replayed")

	trail, err := audit.New(audit.Options{
		Path:      cfg.AuditLogPath,
		Capacity:  cfg.AuditBufferSize,
		Publisher: bus,
		Logger:    logging.Component(log, "audit"),
	})
	if err != nil {
		return err
	}
	defer trail.Close()

	gateCfg, err := seedGateConfig(cfg)
	if err != nil {
		return err
	}
	sinks := risk.AuditSinks{trail}
	if mirror != nil {
		sinks = append(sinks, mirror)
	}
	engine := risk.NewEngine(l, risk.Options{
		Config:  gateCfg,
		Audit:   sinks,
		Metrics: metrics,
		Logger:  logging.Component(log, "risk"),
	})
	engine.Recheck()
	st := engine.Status()
	log.Info().
		Float64("pnl_today_usd", st.Global.PnLTodayUSD).
		Float64("limit_usd", st.Global.LimitUSD).
		Int("symbol_limits", len(st.BySymbol)).
		Str("language", string(i18n.GetLanguage())).
		Msg("risk gates ready")

	queue, closeQueue, err := openQueue(ctx, cfg, logging.Component(log, "queue"))
	if err != nil {
		return err
	}
	defer closeQueue()

	svc := admission.NewService(admission.Options{
		Gate:           engine,
		Queue:          queue,
		Metrics:        metrics,
		Bus:            bus,
		EnqueueTimeout: cfg.EnqueueTimeout,
		Logger:         logging.Component(log, "admission"),
	})

	alertLog := logging.Component(log, "monitor")
	(&monitor.Monitor{Bus: bus, Sink: monitor.LogSink{Log: alertLog}, Log: alertLog}).Start(ctx)

	server := api.NewServer(api.Options{
		Engine:         engine,
		Ledger:         l,
		Admission:      svc,
		Audit:          trail,
		Metrics:        metrics,
		Queries:        queries,
		Bus:            bus,
		JWTSecret:      cfg.AdminJWTSecret,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Logger:         logging.Component(log, "api"),
	})
	if cfg.AdminJWTSecret == "" {
		log.Warn().Msg("ADMIN_JWT_SECRET is empty; admin routes are unauthenticated")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(":" + cfg.Port) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// seedGateConfig applies startup precedence for limits: env global, then the YAML file.
func seedGateConfig(cfg *config.Config) (risk.GateConfig, error) {
	file, err := config.LoadRiskLimits(cfg.RiskLimitsFile)
	if err != nil {
		return risk.GateConfig{}, err
	}
	return risk.GateConfig{
		Global:       risk.LimitFromSpec(cfg.ResolveGlobalLimit(file)),
		SymbolLimits: file.Symbols,
	}, nil
}

// openQueue builds the configured queue adapter. In-process modes get a local
// consumer that logs each job; the real worker attaches through the grpc mode.
func openQueue(ctx context.Context, cfg *config.Config, log zerolog.Logger) (signalqueue.Enqueuer, func(), error) {
	consume := func(j signalqueue.Job) {
		log.Info().
			Str("symbol", j.Symbol).
			Str("timeframe", j.Timeframe).
			Str("job_id", j.JobID).
			Str("idempotency_key", j.IdempotencyKey).
			Msg("signal job dequeued")
	}

	switch cfg.QueueMode {
	case "grpc":
		if cfg.QueueGRPCAddr == "" {
			return nil, nil, errors.New("QUEUE_GRPC_ADDR is required for grpc queue mode")
		}
		q, err := signalqueue.DialGRPCQueue(cfg.QueueGRPCAddr, cfg.QueueGRPCMethod)
		if err != nil {
			return nil, nil, fmt.Errorf("dial signal queue: %w", err)
		}
		log.Info().Str("addr", cfg.QueueGRPCAddr).Str("method", cfg.QueueGRPCMethod).Msg("grpc signal queue")
		return q, func() { q.Close() }, nil

	case "wal":
		q, err := signalqueue.NewPersistentQueue(cfg.QueueWALDir, cfg.QueueSize, log)
		if err != nil {
			return nil, nil, err
		}
		if _, err := q.Recover(ctx); err != nil {
			q.Close()
			return nil, nil, err
		}
		go q.Drain(ctx, consume)
		return q, q.Close, nil

	case "", "memory":
		q := signalqueue.NewQueue(cfg.QueueSize)
		go q.Drain(ctx, consume)
		return q, q.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown QUEUE_MODE %q", cfg.QueueMode)
	}
}
