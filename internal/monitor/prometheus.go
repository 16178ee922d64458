package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"risk-core/internal/ledger"
)

var (
	rrBuckets        = []float64{0.25, 0.5, 1, 1.5, 2, 3, 5}
	excursionBuckets = []float64{0.25, 0.5, 1, 1.5, 2, 3}
)

// RiskMetrics owns every collector of the risk core on a private registry.
type RiskMetrics struct {
	registry *prometheus.Registry

	tradesCount       *prometheus.CounterVec
	tradesRR          *prometheus.HistogramVec
	tradesMaeR        *prometheus.HistogramVec
	tradesMfeR        *prometheus.HistogramVec
	pnlWinsUSD        *prometheus.CounterVec
	pnlLossesUSD      *prometheus.CounterVec
	riskBlocks        *prometheus.CounterVec
	gateTransitions   *prometheus.CounterVec
	killSwitch        prometheus.Gauge
	manualKillSwitch  prometheus.Gauge
	drawdownUSD       prometheus.Gauge
	drawdownLimitUSD  prometheus.Gauge
	symbolDrawdown    *prometheus.GaugeVec
	symbolLimit       *prometheus.GaugeVec
	gateBlocked       *prometheus.GaugeVec
	gateBlockedSymbol *prometheus.GaugeVec
	signalsEnqueued   *prometheus.CounterVec
	queueUnavailable  prometheus.Counter
	httpDuration      *prometheus.HistogramVec

	// Sliding windows for the JSON summary.
	AdmissionLatency *LatencyHistogram
	EnqueueLatency   *LatencyHistogram
}

// NewRiskMetrics registers all collectors, plus Go runtime collectors, on a fresh registry.
func NewRiskMetrics() *RiskMetrics {
	m := &RiskMetrics{
		registry: prometheus.NewRegistry(),
		tradesCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "trades_count_total", Help: "Closed trades by outcome"},
			[]string{"symbol", "timeframe", "outcome"},
		),
		tradesRR: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "trades_rr_ratio", Help: "Realized R multiple of trades with positive return", Buckets: rrBuckets},
			[]string{"symbol", "timeframe", "outcome"},
		),
		tradesMaeR: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "trades_mae_r", Help: "Maximum adverse excursion in R", Buckets: excursionBuckets},
			[]string{"symbol", "timeframe"},
		),
		tradesMfeR: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "trades_mfe_r", Help: "Maximum favorable excursion in R", Buckets: excursionBuckets},
			[]string{"symbol", "timeframe"},
		),
		pnlWinsUSD: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "trades_realized_pnl_wins_usd_total", Help: "Realized USD P&L of winning trades"},
			[]string{"symbol", "timeframe"},
		),
		pnlLossesUSD: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "trades_realized_pnl_losses_usd_total", Help: "Absolute realized USD P&L of losing trades"},
			[]string{"symbol", "timeframe"},
		),
		riskBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "risk_blocks_total", Help: "Signals blocked by a risk gate"},
			[]string{"reason"},
		),
		gateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "risk_gate_transitions_total", Help: "Risk gate state flips"},
			[]string{"gate", "symbol", "event"},
		),
		killSwitch: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "risk_kill_switch", Help: "1 when admission is blocked globally (manual or drawdown)"},
		),
		manualKillSwitch: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "risk_manual_kill_switch", Help: "1 when the manual kill switch is on"},
		),
		drawdownUSD: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "risk_daily_drawdown_usd", Help: "Realized P&L of the current UTC day"},
		),
		drawdownLimitUSD: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "risk_daily_drawdown_limit_usd", Help: "Effective global daily loss limit, 0 when unset"},
		),
		symbolDrawdown: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "risk_daily_drawdown_by_symbol_usd", Help: "Realized P&L of the current UTC day per symbol"},
			[]string{"symbol"},
		),
		symbolLimit: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "risk_daily_drawdown_limit_by_symbol_usd", Help: "Daily loss limit per symbol"},
			[]string{"symbol"},
		),
		gateBlocked: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "risk_gate_blocked", Help: "1 while a global gate blocks"},
			[]string{"type"},
		),
		gateBlockedSymbol: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "risk_gate_blocked_by_symbol", Help: "1 while a symbol gate blocks"},
			[]string{"symbol"},
		),
		signalsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "signals_enqueued_total", Help: "Signals forwarded to the queue"},
			[]string{"symbol", "timeframe"},
		),
		queueUnavailable: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "signals_queue_unavailable_total", Help: "Admitted signals the queue refused or timed out on"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request latency", Buckets: prometheus.DefBuckets},
			[]string{"method", "route", "status"},
		),
		AdmissionLatency: NewLatencyHistogram(1000),
		EnqueueLatency:   NewLatencyHistogram(1000),
	}

	m.registry.MustRegister(
		m.tradesCount, m.tradesRR, m.tradesMaeR, m.tradesMfeR,
		m.pnlWinsUSD, m.pnlLossesUSD,
		m.riskBlocks, m.gateTransitions,
		m.killSwitch, m.manualKillSwitch, m.drawdownUSD, m.drawdownLimitUSD,
		m.symbolDrawdown, m.symbolLimit, m.gateBlocked, m.gateBlockedSymbol,
		m.signalsEnqueued, m.queueUnavailable, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for gathering.
func (m *RiskMetrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the Prometheus exposition format.
func (m *RiskMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTrade implements ledger.Observer.
func (m *RiskMetrics) ObserveTrade(rec ledger.TradeRecord) {
	outcome := string(rec.Outcome)
	m.tradesCount.WithLabelValues(rec.Symbol, rec.Timeframe, outcome).Inc()

	if rr, ok := rec.ObservableRR(); ok {
		m.tradesRR.WithLabelValues(rec.Symbol, rec.Timeframe, outcome).Observe(rr)
	}
	if rec.MaeR != nil && *rec.MaeR >= 0 {
		m.tradesMaeR.WithLabelValues(rec.Symbol, rec.Timeframe).Observe(*rec.MaeR)
	}
	if rec.MfeR != nil && *rec.MfeR >= 0 {
		m.tradesMfeR.WithLabelValues(rec.Symbol, rec.Timeframe).Observe(*rec.MfeR)
	}

	switch {
	case rec.RealizedPnLUSD > 0:
		m.pnlWinsUSD.WithLabelValues(rec.Symbol, rec.Timeframe).Add(rec.RealizedPnLUSD)
	case rec.RealizedPnLUSD < 0:
		m.pnlLossesUSD.WithLabelValues(rec.Symbol, rec.Timeframe).Add(-rec.RealizedPnLUSD)
	}
}

// IncBlock counts one admission block.
func (m *RiskMetrics) IncBlock(reason string) {
	m.riskBlocks.WithLabelValues(reason).Inc()
}

// IncTransition counts one gate flip.
func (m *RiskMetrics) IncTransition(gate, symbol, event string) {
	m.gateTransitions.WithLabelValues(gate, symbol, event).Inc()
}

func (m *RiskMetrics) SetKillSwitch(manual, effective bool) {
	m.manualKillSwitch.Set(boolGauge(manual))
	m.killSwitch.Set(boolGauge(effective))
	m.gateBlocked.WithLabelValues("manual_killswitch").Set(boolGauge(manual))
}

func (m *RiskMetrics) SetGlobalDrawdown(pnlTodayUSD, limitUSD float64, breached bool) {
	m.drawdownUSD.Set(pnlTodayUSD)
	m.drawdownLimitUSD.Set(limitUSD)
	m.gateBlocked.WithLabelValues("daily_drawdown").Set(boolGauge(breached))
}

func (m *RiskMetrics) SetSymbolDrawdown(symbol string, pnlTodayUSD, limitUSD float64, blocked bool) {
	m.symbolDrawdown.WithLabelValues(symbol).Set(pnlTodayUSD)
	m.symbolLimit.WithLabelValues(symbol).Set(limitUSD)
	m.gateBlockedSymbol.WithLabelValues(symbol).Set(boolGauge(blocked))
}

// IncEnqueued counts one signal handed to the queue.
func (m *RiskMetrics) IncEnqueued(symbol, timeframe string) {
	m.signalsEnqueued.WithLabelValues(symbol, timeframe).Inc()
}

// IncQueueUnavailable counts one admitted signal the queue could not take.
func (m *RiskMetrics) IncQueueUnavailable() {
	m.queueUnavailable.Inc()
}

// ObserveAdmission records the time spent evaluating gates for one signal.
func (m *RiskMetrics) ObserveAdmission(d time.Duration) {
	m.AdmissionLatency.RecordDuration(d)
}

// ObserveEnqueue records the time spent handing one job to the queue.
func (m *RiskMetrics) ObserveEnqueue(d time.Duration) {
	m.EnqueueLatency.RecordDuration(d)
}

// ObserveHTTP records one served request.
func (m *RiskMetrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
