package ledger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"risk-core/internal/events"
	"risk-core/pkg/errs"
)

var fixedNow = time.Date(2025, 9, 24, 12, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

type countingObserver struct {
	trades []TradeRecord
}

func (o *countingObserver) ObserveTrade(rec TradeRecord) { o.trades = append(o.trades, rec) }

func newTestLedger(t *testing.T, journal *Journal) (*Ledger, *countingObserver) {
	t.Helper()
	obs := &countingObserver{}
	return New(Options{
		Journal:  journal,
		Observer: obs,
		Clock:    func() time.Time { return fixedNow },
	}), obs
}

func longInput(entry, exit, stop, size float64) TradeInput {
	return TradeInput{
		Symbol: "BTCUSDT", Timeframe: "15m", Side: "long",
		EntryPrice: f(entry), ExitPrice: f(exit), StopPrice: f(stop), SizeUSD: f(size),
	}
}

func TestBuildLongExample(t *testing.T) {
	l, _ := newTestLedger(t, nil)

	rec, err := l.Build(longInput(100, 102, 98, 1000))
	require.NoError(t, err)
	assert.InDelta(t, 10, rec.Qty, 1e-9)
	assert.InDelta(t, 20, rec.RealizedPnLUSD, 1e-9)
	assert.InDelta(t, 20, rec.RUSD, 1e-9)
	assert.InDelta(t, 1.0, rec.RR, 1e-9)
	assert.Equal(t, OutcomeWin, rec.Outcome)
	assert.Equal(t, fixedNow, rec.ClosedAt)
	assert.Nil(t, rec.MaeR)
	assert.Nil(t, rec.MfeR)
}

func TestBuildShortWithExcursions(t *testing.T) {
	l, _ := newTestLedger(t, nil)

	in := TradeInput{
		Symbol: "ETHUSDT", Timeframe: "1h", Side: "short",
		EntryPrice: f(200), ExitPrice: f(190), StopPrice: f(210), SizeUSD: f(1000),
		FeesUSD: 2, HighPrice: f(205), LowPrice: f(185),
		ClosedAt: "2025-09-24T08:30:00.000Z",
	}
	rec, err := l.Build(in)
	require.NoError(t, err)
	assert.InDelta(t, 5, rec.Qty, 1e-9)
	assert.InDelta(t, 48, rec.RealizedPnLUSD, 1e-9)
	assert.InDelta(t, 50, rec.RUSD, 1e-9)
	assert.InDelta(t, 0.96, rec.RR, 1e-9)
	require.NotNil(t, rec.MaeR)
	require.NotNil(t, rec.MfeR)
	assert.InDelta(t, 0.5, *rec.MaeR, 1e-9)
	assert.InDelta(t, 1.5, *rec.MfeR, 1e-9)
	assert.Equal(t, "2025-09-24", rec.Day())
}

func TestBuildPnLFormula(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	cases := []struct {
		side             string
		entry, exit, fee float64
	}{
		{"long", 100, 110, 0},
		{"long", 100, 90, 1.5},
		{"short", 100, 90, 0.25},
		{"short", 50, 55, 0},
	}
	for _, c := range cases {
		in := longInput(c.entry, c.exit, c.entry*0.9, 500)
		in.Side = c.side
		in.FeesUSD = c.fee
		rec, err := l.Build(in)
		require.NoError(t, err)

		qty := 500 / c.entry
		want := (c.exit-c.entry)*qty - c.fee
		if c.side == "short" {
			want = (c.entry-c.exit)*qty - c.fee
		}
		assert.InDelta(t, want, rec.RealizedPnLUSD, 1e-9, "%+v", c)
	}
}

func TestBuildOutcomeBand(t *testing.T) {
	assert.Equal(t, OutcomeBreakeven, classifyOutcome(0))
	assert.Equal(t, OutcomeBreakeven, classifyOutcome(1e-7))
	assert.Equal(t, OutcomeWin, classifyOutcome(2e-6))
	assert.Equal(t, OutcomeLoss, classifyOutcome(-2e-6))
}

func TestBuildValidation(t *testing.T) {
	l, _ := newTestLedger(t, nil)

	cases := []struct {
		name   string
		mutate func(*TradeInput)
		field  string
		reason string
	}{
		{"missing symbol", func(in *TradeInput) { in.Symbol = "" }, "symbol", errs.ReasonRequired},
		{"missing stop", func(in *TradeInput) { in.StopPrice = nil }, "stopPrice", errs.ReasonRequired},
		{"bad side", func(in *TradeInput) { in.Side = "buy" }, "side", errs.ReasonInvalidSide},
		{"zero size", func(in *TradeInput) { in.SizeUSD = f(0) }, "sizeUsd", errs.ReasonNotPositive},
		{"negative exit", func(in *TradeInput) { in.ExitPrice = f(-1) }, "exitPrice", errs.ReasonNotPositive},
		{"bad closedAt", func(in *TradeInput) { in.ClosedAt = "yesterday" }, "closedAt", errs.ReasonInvalidTimestamp},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := longInput(100, 101, 99, 100)
			tc.mutate(&in)
			_, err := l.Build(in)
			require.Error(t, err)
			var ve *errs.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
			assert.Equal(t, tc.reason, ve.Reason)
		})
	}
}

func TestObservableRR(t *testing.T) {
	l, _ := newTestLedger(t, nil)

	loser, err := l.Build(longInput(100, 99, 98, 1000))
	require.NoError(t, err)
	_, ok := loser.ObservableRR()
	assert.False(t, ok, "losing trade stays out of the RR distribution")

	noRisk, err := l.Build(longInput(100, 105, 100, 1000))
	require.NoError(t, err)
	assert.Zero(t, noRisk.RUSD)
	assert.Zero(t, noRisk.RR)
	_, ok = noRisk.ObservableRR()
	assert.False(t, ok)

	winner, err := l.Build(longInput(100, 104, 98, 1000))
	require.NoError(t, err)
	v, ok := winner.ObservableRR()
	assert.True(t, ok)
	assert.InDelta(t, 2.0, v, 1e-9)
}

func TestTodayPnLScopes(t *testing.T) {
	l, obs := newTestLedger(t, nil)

	_, err := l.record(longInput(100, 96, 95, 1000)) // -40 BTC
	require.NoError(t, err)
	eth := longInput(100, 97, 95, 1000) // -30 ETH
	eth.Symbol = "ETHUSDT"
	_, err = l.record(eth)
	require.NoError(t, err)
	old := longInput(100, 50, 95, 1000) // yesterday, ignored
	old.ClosedAt = "2025-09-23T23:59:59Z"
	_, err = l.record(old)
	require.NoError(t, err)

	assert.InDelta(t, -70, l.TodayPnL(""), 1e-9)
	assert.InDelta(t, -40, l.TodayPnL("BTCUSDT"), 1e-9)
	assert.InDelta(t, -30, l.TodayPnL("ETHUSDT"), 1e-9)
	assert.Zero(t, l.TodayPnL("SOLUSDT"))
	assert.Len(t, obs.trades, 3)
}

func TestRecordWritesJournalLine(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "data", "trades.jsonl"))
	require.NoError(t, err)
	l, _ := newTestLedger(t, j)

	_, err = l.record(longInput(100, 102, 98, 1000))
	require.NoError(t, err)

	raw, err := os.ReadFile(j.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &m))
	for _, k := range []string{"symbol", "timeframe", "side", "entryPrice", "exitPrice", "stopPrice", "sizeUsd", "feesUsd", "qty", "realizedPnlUsd", "rUsd", "rr", "outcome", "closedAt"} {
		assert.Contains(t, m, k)
	}
	assert.Equal(t, "2025-09-24T12:00:00Z", m["closedAt"])
}

func TestReplayIsIdempotent(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "trades.jsonl"))
	require.NoError(t, err)

	writer, _ := newTestLedger(t, j)
	a, err := writer.record(longInput(100, 95, 98, 1000)) // -50
	require.NoError(t, err)
	b := longInput(100, 104, 98, 1000) // +40
	b.ClosedAt = "2025-09-24T09:00:00Z"
	_, err = writer.record(b)
	require.NoError(t, err)

	// duplicate and junk lines
	dup, err := json.Marshal(a)
	require.NoError(t, err)
	fh, err := os.OpenFile(j.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = fh.WriteString(string(dup) + "\n{not json\n\n" + `{"symbol":"BTCUSDT","timeframe":"15m"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	l, obs := newTestLedger(t, j)
	sum, err := l.Replay()
	require.NoError(t, err)
	assert.Equal(t, ReplaySummary{Ingested: 2, DedupSkipped: 1, Malformed: 2}, sum)
	assert.InDelta(t, -10, l.TodayPnL(""), 1e-9)
	assert.Len(t, obs.trades, 2)

	sum, err = l.Replay()
	require.NoError(t, err)
	assert.Equal(t, ReplaySummary{Ingested: 0, DedupSkipped: 3, Malformed: 2}, sum)
	assert.InDelta(t, -10, l.TodayPnL(""), 1e-9)
	assert.Equal(t, 2, l.Len())
	assert.Len(t, obs.trades, 2, "replay must not double count metrics")
}

func TestReplayMissingLogIsEmpty(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "none.jsonl"))
	require.NoError(t, err)
	l, _ := newTestLedger(t, j)
	sum, err := l.Replay()
	require.NoError(t, err)
	assert.Equal(t, ReplaySummary{}, sum)
}

func TestReplayFillsMissingOutcome(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	line := `{"symbol":"BTCUSDT","timeframe":"1m","side":"long","entryPrice":1,"exitPrice":1,"stopPrice":1,"sizeUsd":1,"feesUsd":0,"realizedPnlUsd":-3,"closedAt":"2025-09-24T01:00:00Z"}`
	sum, err := l.ReplayFrom(bytes.NewBufferString(line + "\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Ingested)
	assert.Equal(t, OutcomeLoss, l.Records()[0].Outcome)
}

func TestReplayRejectsLinesBuildWouldRefuse(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	base := `"symbol":"BTCUSDT","timeframe":"1m","feesUsd":0,"realizedPnlUsd":-3,"closedAt":"2025-09-24T01:00:00Z"`
	lines := []string{
		`{` + base + `,"side":"x","entryPrice":1,"exitPrice":1,"stopPrice":1,"sizeUsd":1}`,
		`{` + base + `,"side":"long","entryPrice":-1,"exitPrice":1,"stopPrice":1,"sizeUsd":1}`,
		`{` + base + `,"side":"short","entryPrice":1,"exitPrice":1,"stopPrice":1,"sizeUsd":0}`,
		`{` + base + `,"side":"short","entryPrice":1,"exitPrice":1,"stopPrice":1,"sizeUsd":5}`,
	}
	sum, err := l.ReplayFrom(bytes.NewBufferString(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	assert.Equal(t, ReplaySummary{Ingested: 1, Malformed: 3}, sum)
	require.Equal(t, 1, l.Len())
	assert.Equal(t, SideShort, l.Records()[0].Side)
}

func TestStats(t *testing.T) {
	l, _ := newTestLedger(t, nil)

	win := longInput(100, 104, 98, 1000) // +40, rr 2
	win.HighPrice = f(106)
	win.LowPrice = f(99)
	_, err := l.record(win)
	require.NoError(t, err)

	loss := longInput(100, 98, 98, 1000) // -20, rr -1
	loss.ClosedAt = "2025-09-23T10:00:00Z"
	_, err = l.record(loss)
	require.NoError(t, err)

	flat := longInput(100, 100, 98, 1000)
	flat.Timeframe = "1h"
	_, err = l.record(flat)
	require.NoError(t, err)

	st := l.Stats(StatsFilter{})
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Wins)
	assert.Equal(t, 1, st.Losses)
	assert.Equal(t, 1, st.Breakevens)
	assert.InDelta(t, 1.0/3, st.Winrate, 1e-9)
	assert.InDelta(t, (2.0-1.0+0)/3, st.AvgRR, 1e-9)
	assert.InDelta(t, 0.5, st.AvgMaeR, 1e-9)
	assert.InDelta(t, 3.0, st.AvgMfeR, 1e-9)
	assert.InDelta(t, 20, st.SumPnLUSD, 1e-9)
	assert.InDelta(t, 40, st.ByOutcome[OutcomeWin], 1e-9)
	assert.InDelta(t, -20, st.ByOutcome[OutcomeLoss], 1e-9)
	assert.Equal(t, map[string]float64{"2025-09-24": 40, "2025-09-23": -20}, st.PnLByDay)

	from := time.Date(2025, 9, 24, 0, 0, 0, 0, time.UTC)
	st = l.Stats(StatsFilter{Timeframe: "15m", From: &from})
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Wins)

	empty := l.Stats(StatsFilter{Symbol: "DOGEUSDT"})
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.Winrate)
}

func TestObserversFanOutToBus(t *testing.T) {
	bus := events.NewBus()
	recorded, unsub := bus.Subscribe(events.EventTradeRecorded, 1)
	defer unsub()

	counter := &countingObserver{}
	l := New(Options{
		Observer: Observers{counter, nil, BusObserver{Bus: bus}},
		Clock:    func() time.Time { return fixedNow },
	})

	rec, err := l.record(longInput(100, 102, 98, 1000))
	require.NoError(t, err)
	require.Len(t, counter.trades, 1)

	select {
	case msg := <-recorded:
		got, ok := msg.(TradeRecord)
		require.True(t, ok)
		assert.Equal(t, rec.DedupKey(), got.DedupKey())
	default:
		t.Fatal("trade was not published")
	}
}
