package risk

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"risk-core/internal/audit"
	"risk-core/internal/ledger"
	"risk-core/pkg/config"
	"risk-core/pkg/errs"
)

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Append(evt audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) all() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

type fakeMetrics struct {
	mu          sync.Mutex
	blocks      map[string]int
	transitions map[string]int
	symBlocked  map[string]bool
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{blocks: map[string]int{}, transitions: map[string]int{}, symBlocked: map[string]bool{}}
}

func (m *fakeMetrics) IncBlock(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[reason]++
}

func (m *fakeMetrics) IncTransition(gate, symbol, event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[gate+"/"+symbol+"/"+event]++
}

func (m *fakeMetrics) SetKillSwitch(bool, bool)                 {}
func (m *fakeMetrics) SetGlobalDrawdown(float64, float64, bool) {}

func (m *fakeMetrics) SetSymbolDrawdown(s string, _, _ float64, b bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symBlocked[s] = b
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	engine  *Engine
	ledger  *ledger.Ledger
	sink    *recordingSink
	metrics *fakeMetrics
	clock   *clock
}

func newFixture(t *testing.T, cfg GateConfig) *fixture {
	t.Helper()
	clk := &clock{now: time.Date(2025, 9, 24, 12, 0, 0, 0, time.UTC)}
	l := ledger.New(ledger.Options{Clock: clk.Now})
	sink := &recordingSink{}
	m := newFakeMetrics()
	e := NewEngine(l, Options{Config: cfg, Audit: sink, Metrics: m})
	e.Recheck()
	return &fixture{engine: e, ledger: l, sink: sink, metrics: m, clock: clk}
}

func p(v float64) *float64 { return &v }

// loss records a flat trade whose fees make it lose exactly usd.
func (fx *fixture) loss(t *testing.T, symbol string, usd float64) {
	t.Helper()
	_, err := fx.engine.RecordTrade(ledger.TradeInput{
		Symbol: symbol, Timeframe: "15m", Side: "long",
		EntryPrice: p(100), ExitPrice: p(100), StopPrice: p(90), SizeUSD: p(1000),
		FeesUSD: usd,
	})
	assert.NoError(t, err)
}

func TestDailyDrawdownBoundaryIsInclusive(t *testing.T) {
	fx := newFixture(t, GateConfig{Global: USDLimit(100)})

	fx.loss(t, "BTCUSDT", 60)
	fx.loss(t, "ETHUSDT", 39.99)
	assert.InDelta(t, -99.99, fx.ledger.TodayPnL(""), 1e-9)
	assert.False(t, fx.engine.GlobalStatus().Breached)
	assert.NoError(t, fx.engine.EvaluateAdmission("BTCUSDT"))

	fx.loss(t, "ETHUSDT", 0.01)
	assert.InDelta(t, -100, fx.ledger.TodayPnL(""), 1e-9)
	assert.True(t, fx.engine.GlobalStatus().Breached)

	err := fx.engine.EvaluateAdmission("SOLUSDT")
	pb, ok := errs.AsPolicyBlocked(err)
	require.True(t, ok)
	assert.Equal(t, "daily_drawdown", pb.Reason)
	assert.InDelta(t, -100, pb.PnLTodayUSD, 1e-9)
	assert.Equal(t, 100.0, pb.LimitUSD)
	assert.Equal(t, 1, fx.metrics.blocks["daily_drawdown"])

	events := fx.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, "daily_drawdown", events[0].Gate)
	assert.Equal(t, audit.Activated, events[0].Event)
	require.NotNil(t, events[0].Meta)
	assert.Equal(t, 100.0, events[0].Meta.LimitUSD)
}

func TestKillSwitchProducesExactlyTwoEvents(t *testing.T) {
	fx := newFixture(t, GateConfig{Global: USDLimit(100)})

	fx.engine.SetKillSwitch(true)
	fx.engine.SetKillSwitch(true)
	fx.engine.Recheck()
	fx.engine.SetKillSwitch(false)
	fx.engine.Recheck()

	events := fx.sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, "manual_killswitch", events[0].Gate)
	assert.Equal(t, audit.Activated, events[0].Event)
	assert.Nil(t, events[0].Meta)
	assert.Equal(t, audit.Deactivated, events[1].Event)
	assert.Equal(t, 1, fx.metrics.transitions["manual_killswitch//activated"])
	assert.Equal(t, 1, fx.metrics.transitions["manual_killswitch//deactivated"])
	assert.Empty(t, fx.metrics.blocks, "toggling the switch is not a block")
}

func TestPrecedenceKillSwitchFirst(t *testing.T) {
	fx := newFixture(t, GateConfig{
		Global:       USDLimit(10),
		SymbolLimits: map[string]float64{"BTCUSDT": 5},
	})
	fx.loss(t, "BTCUSDT", 20)
	fx.engine.SetKillSwitch(true)

	err := fx.engine.EvaluateAdmission("BTCUSDT")
	pb, ok := errs.AsPolicyBlocked(err)
	require.True(t, ok)
	assert.Equal(t, "manual_killswitch", pb.Reason)

	fx.engine.SetKillSwitch(false)
	pb, ok = errs.AsPolicyBlocked(fx.engine.EvaluateAdmission("BTCUSDT"))
	require.True(t, ok)
	assert.Equal(t, "daily_drawdown", pb.Reason, "global gate wins over symbol gate")
}

func TestSymbolGate(t *testing.T) {
	fx := newFixture(t, GateConfig{})

	st, err := fx.engine.SetSymbolLimit("BTCUSDT", 15)
	require.NoError(t, err)
	assert.Equal(t, SymbolStatus{Symbol: "BTCUSDT", LimitUSD: 15}, st)

	fx.loss(t, "BTCUSDT", 15)
	fx.loss(t, "ETHUSDT", 500)

	err = fx.engine.EvaluateAdmission("BTCUSDT")
	pb, ok := errs.AsPolicyBlocked(err)
	require.True(t, ok)
	assert.Equal(t, "daily_drawdown_symbol_BTCUSDT", pb.Reason)
	assert.Equal(t, "symbol_drawdown", pb.Gate)
	assert.Equal(t, "BTCUSDT", pb.Symbol)
	assert.Equal(t, 1, fx.metrics.blocks["daily_drawdown_symbol_BTCUSDT"])
	assert.True(t, fx.metrics.symBlocked["BTCUSDT"])

	assert.NoError(t, fx.engine.EvaluateAdmission("ETHUSDT"), "no global limit, no ETH limit")

	events := fx.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, "symbol_drawdown", events[0].Gate)
	assert.Equal(t, "BTCUSDT", events[0].Symbol)

	// raising the limit unblocks and is audited
	st, err = fx.engine.SetSymbolLimit("BTCUSDT", 50)
	require.NoError(t, err)
	assert.False(t, st.Blocked)
	events = fx.sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, audit.Deactivated, events[1].Event)
}

func TestPercentLimitExample(t *testing.T) {
	fx := newFixture(t, GateConfig{})

	st, err := fx.engine.SetGlobalLimit(PercentLimit{Pct: 1, BaseUSD: 1500})
	require.NoError(t, err)
	assert.Equal(t, ModePercent, st.Mode)
	assert.Equal(t, 15.0, st.LimitUSD)

	fx.loss(t, "BTCUSDT", 10)
	fx.loss(t, "ETHUSDT", 5.01)

	for _, sym := range []string{"BTCUSDT", "ETHUSDT", "XRPUSDT"} {
		pb, ok := errs.AsPolicyBlocked(fx.engine.EvaluateAdmission(sym))
		require.True(t, ok, sym)
		assert.Equal(t, "daily_drawdown", pb.Reason)
	}
	assert.True(t, fx.engine.Status().Gates.DailyDrawdown)
}

func TestPercentFractionAndModeSwitch(t *testing.T) {
	assert.InDelta(t, 15.0, PercentLimit{Pct: 0.01, BaseUSD: 1500}.LimitUSD(), 1e-9)
	assert.Equal(t, 30.0, PercentLimit{Pct: 2, BaseUSD: 1500}.LimitUSD())

	fx := newFixture(t, GateConfig{Global: PercentLimit{Pct: 1, BaseUSD: 1500}})
	st, err := fx.engine.SetGlobalLimit(USDLimit(20))
	require.NoError(t, err)
	assert.Equal(t, GlobalStatus{Mode: ModeUSD, LimitUSD: 20}, st)
	_, isUSD := fx.engine.Config().Global.(USDLimit)
	assert.True(t, isUSD, "last write wins")

	st = fx.engine.ClearGlobalLimit()
	assert.Equal(t, GlobalStatus{}, st)
}

func TestSettersValidate(t *testing.T) {
	fx := newFixture(t, GateConfig{})

	_, err := fx.engine.SetGlobalLimit(USDLimit(0))
	assert.True(t, errs.IsValidation(err))
	_, err = fx.engine.SetGlobalLimit(PercentLimit{Pct: 1})
	assert.True(t, errs.IsValidation(err))
	_, err = fx.engine.SetGlobalLimit(nil)
	assert.True(t, errs.IsValidation(err))
	_, err = fx.engine.SetSymbolLimit(" ", 10)
	assert.True(t, errs.IsValidation(err))
	_, err = fx.engine.SetSymbolLimit("BTCUSDT", -1)
	assert.True(t, errs.IsValidation(err))
}

func TestRecordTradeValidationLeavesStateUntouched(t *testing.T) {
	fx := newFixture(t, GateConfig{Global: USDLimit(1)})
	_, err := fx.engine.RecordTrade(ledger.TradeInput{Symbol: "BTCUSDT"})
	assert.True(t, errs.IsValidation(err))
	assert.Zero(t, fx.ledger.Len())
	assert.Empty(t, fx.sink.all())
}

func TestDayRolloverDeactivates(t *testing.T) {
	fx := newFixture(t, GateConfig{Global: USDLimit(10)})
	fx.loss(t, "BTCUSDT", 10)
	require.Error(t, fx.engine.EvaluateAdmission("BTCUSDT"))

	fx.clock.Set(time.Date(2025, 9, 25, 0, 0, 1, 0, time.UTC))
	assert.NoError(t, fx.engine.EvaluateAdmission("BTCUSDT"))

	events := fx.sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, audit.Deactivated, events[1].Event)
}

func TestStatusReadsDoNotAudit(t *testing.T) {
	fx := newFixture(t, GateConfig{SymbolLimits: map[string]float64{"BTCUSDT": 5}})
	fx.loss(t, "BTCUSDT", 5)
	before := len(fx.sink.all())

	st := fx.engine.Status()
	assert.True(t, st.BySymbol["BTCUSDT"].Blocked)
	assert.False(t, st.Gates.ManualKillSwitch)
	assert.Equal(t, SymbolStatus{Symbol: "SOLUSDT"}, fx.engine.SymbolStatus("SOLUSDT"))
	assert.Len(t, fx.sink.all(), before)
}

func TestConcurrentTradesSerialize(t *testing.T) {
	fx := newFixture(t, GateConfig{Global: USDLimit(50)})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fx.loss(t, fmt.Sprintf("SYM%d", i%4), 5)
		}(i)
	}
	wg.Wait()

	assert.InDelta(t, -100, fx.ledger.TodayPnL(""), 1e-9)
	events := fx.sink.all()
	require.Len(t, events, 1, "breach observed exactly once")
	assert.Equal(t, audit.Activated, events[0].Event)
}

func TestLimitFromSpec(t *testing.T) {
	assert.Nil(t, LimitFromSpec(config.GlobalLimitSpec{}))
	assert.Equal(t, USDLimit(5), LimitFromSpec(config.GlobalLimitSpec{USD: 5, Pct: 1, BaseUSD: 10}))
	assert.Equal(t, PercentLimit{Pct: 1, BaseUSD: 10}, LimitFromSpec(config.GlobalLimitSpec{Pct: 1, BaseUSD: 10}))
}

func TestEdgeState(t *testing.T) {
	s := NewEdgeState()
	assert.False(t, s.Observe(GateDailyDrawdown, "", false))
	assert.True(t, s.Observe(GateDailyDrawdown, "", true))
	assert.False(t, s.Observe(GateDailyDrawdown, "", true))
	assert.True(t, s.Active(GateDailyDrawdown, ""))
	assert.False(t, s.Active(GateSymbolDrawdown, "BTCUSDT"))
	assert.True(t, s.Observe(GateSymbolDrawdown, "BTCUSDT", true))
	assert.True(t, s.Observe(GateDailyDrawdown, "", false))
}
