package risk

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"risk-core/internal/audit"
	"risk-core/internal/ledger"
	"risk-core/pkg/errs"
)

// AuditSink receives gate transitions.
type AuditSink interface {
	Append(evt audit.Event)
}

// AuditSinks appends to each sink in order.
type AuditSinks []AuditSink

func (s AuditSinks) Append(evt audit.Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Append(evt)
		}
	}
}

// Metrics is the gauge/counter surface the engine keeps current.
type Metrics interface {
	IncBlock(reason string)
	IncTransition(gate, symbol, event string)
	SetKillSwitch(manual, effective bool)
	SetGlobalDrawdown(pnlTodayUSD, limitUSD float64, breached bool)
	SetSymbolDrawdown(symbol string, pnlTodayUSD, limitUSD float64, blocked bool)
}

// Options configures an Engine.
type Options struct {
	Config  GateConfig
	Audit   AuditSink
	Metrics Metrics
	Logger  zerolog.Logger
}

// Engine owns gate configuration and edge state. One mutex covers
// "append trade, recompute P&L, recheck gates" so concurrent trade
// submissions and admissions see a consistent picture.
type Engine struct {
	mu      sync.Mutex
	ledger  *ledger.Ledger
	cfg     GateConfig
	edges   *EdgeState
	audit   AuditSink
	metrics Metrics
	log     zerolog.Logger
}

// NewEngine wires the gate engine to the ledger. Call Recheck once after replay.
func NewEngine(l *ledger.Ledger, opts Options) *Engine {
	cfg := opts.Config.clone()
	return &Engine{
		ledger:  l,
		cfg:     cfg,
		edges:   NewEdgeState(),
		audit:   opts.Audit,
		metrics: opts.Metrics,
		log:     opts.Logger,
	}
}

// RecordTrade validates and stores a closed trade, then rechecks every gate.
// The durable log write happens outside the engine lock.
func (e *Engine) RecordTrade(in ledger.TradeInput) (ledger.TradeRecord, error) {
	rec, err := e.ledger.Build(in)
	if err != nil {
		return ledger.TradeRecord{}, err
	}
	e.ledger.Persist(rec)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledger.Append(rec)
	e.recheckLocked()
	return rec, nil
}

// EvaluateAdmission returns nil when symbol may proceed, or *errs.PolicyBlocked
// for the first blocking gate in order: kill switch, global drawdown, symbol drawdown.
func (e *Engine) EvaluateAdmission(symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Picks up day rollover and keeps gauges fresh.
	e.recheckLocked()

	pnl := e.ledger.TodayPnL("")
	limit := e.cfg.globalLimitUSD()

	if e.cfg.ManualKillSwitch {
		return e.block(&errs.PolicyBlocked{
			Gate:        string(GateManualKillSwitch),
			Reason:      string(GateManualKillSwitch),
			PnLTodayUSD: pnl,
			LimitUSD:    limit,
		})
	}
	if limit > 0 && pnl <= -limit {
		return e.block(&errs.PolicyBlocked{
			Gate:        string(GateDailyDrawdown),
			Reason:      string(GateDailyDrawdown),
			PnLTodayUSD: pnl,
			LimitUSD:    limit,
		})
	}
	if symLimit, ok := e.cfg.SymbolLimits[symbol]; ok && symLimit > 0 {
		symPnL := e.ledger.TodayPnL(symbol)
		if symPnL <= -symLimit {
			return e.block(&errs.PolicyBlocked{
				Gate:        string(GateSymbolDrawdown),
				Reason:      SymbolBlockReason(symbol),
				Symbol:      symbol,
				PnLTodayUSD: symPnL,
				LimitUSD:    symLimit,
			})
		}
	}
	return nil
}

func (e *Engine) block(pb *errs.PolicyBlocked) error {
	if e.metrics != nil {
		e.metrics.IncBlock(pb.Reason)
	}
	e.log.Info().
		Str("gate", pb.Gate).
		Str("symbol", pb.Symbol).
		Float64("pnl_today_usd", pb.PnLTodayUSD).
		Float64("limit_usd", pb.LimitUSD).
		Msg("risk gate blocked")
	return pb
}

// Recheck recomputes every condition and emits one audit event per flip.
func (e *Engine) Recheck() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recheckLocked()
}

func (e *Engine) recheckLocked() {
	pnl := e.ledger.TodayPnL("")
	limit := e.cfg.globalLimitUSD()
	breached := limit > 0 && pnl <= -limit
	manual := e.cfg.ManualKillSwitch

	if e.metrics != nil {
		e.metrics.SetKillSwitch(manual, manual || breached)
		e.metrics.SetGlobalDrawdown(pnl, limit, breached)
	}

	if e.edges.Observe(GateManualKillSwitch, "", manual) {
		e.emit(GateManualKillSwitch, "", manual, nil)
	}
	if e.edges.Observe(GateDailyDrawdown, "", breached) {
		e.emit(GateDailyDrawdown, "", breached, &audit.Meta{PnLTodayUSD: pnl, LimitUSD: limit})
	}

	for _, symbol := range sortedSymbols(e.cfg.SymbolLimits) {
		symLimit := e.cfg.SymbolLimits[symbol]
		symPnL := e.ledger.TodayPnL(symbol)
		blocked := symLimit > 0 && symPnL <= -symLimit
		if e.metrics != nil {
			e.metrics.SetSymbolDrawdown(symbol, symPnL, symLimit, blocked)
		}
		if e.edges.Observe(GateSymbolDrawdown, symbol, blocked) {
			e.emit(GateSymbolDrawdown, symbol, blocked, &audit.Meta{PnLTodayUSD: symPnL, LimitUSD: symLimit})
		}
	}
}

func (e *Engine) emit(gate Gate, symbol string, active bool, meta *audit.Meta) {
	event := audit.Deactivated
	if active {
		event = audit.Activated
	}
	evt := audit.Event{
		TS:     e.ledger.Now(),
		Gate:   string(gate),
		Event:  event,
		Symbol: symbol,
		Meta:   meta,
	}
	if e.audit != nil {
		e.audit.Append(evt)
	}
	if e.metrics != nil {
		e.metrics.IncTransition(string(gate), symbol, event)
	}

	l := e.log.Warn().Str("gate", string(gate)).Str("event", event)
	if symbol != "" {
		l = l.Str("symbol", symbol)
	}
	if meta != nil {
		l = l.Float64("pnl_today_usd", meta.PnLTodayUSD).Float64("limit_usd", meta.LimitUSD)
	}
	l.Msg("risk gate transition")
}

// SetKillSwitch toggles the manual kill switch.
func (e *Engine) SetKillSwitch(active bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.ManualKillSwitch = active
	e.recheckLocked()
	return active
}

// SetGlobalLimit replaces the global limit, whichever mode it was in.
func (e *Engine) SetGlobalLimit(limit GlobalLimit) (GlobalStatus, error) {
	if limit == nil {
		return GlobalStatus{}, errs.Invalid("usd", errs.ReasonInvalidLimit)
	}
	if err := limit.validate(); err != nil {
		return GlobalStatus{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Global = limit
	e.recheckLocked()
	return e.globalStatusLocked(), nil
}

// ClearGlobalLimit removes the global limit.
func (e *Engine) ClearGlobalLimit() GlobalStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Global = nil
	e.recheckLocked()
	return e.globalStatusLocked()
}

// SetSymbolLimit sets the daily loss limit for one symbol.
func (e *Engine) SetSymbolLimit(symbol string, usd float64) (SymbolStatus, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return SymbolStatus{}, errs.Invalid("symbol", errs.ReasonRequired)
	}
	if !positive(usd) {
		return SymbolStatus{}, errs.Invalid("usd", errs.ReasonNotPositive)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.SymbolLimits == nil {
		e.cfg.SymbolLimits = make(map[string]float64)
	}
	e.cfg.SymbolLimits[symbol] = usd
	e.recheckLocked()
	return e.symbolStatusLocked(symbol), nil
}

// Config returns a copy of the current gate configuration.
func (e *Engine) Config() GateConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.clone()
}

func sortedSymbols(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
