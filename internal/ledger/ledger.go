package ledger

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"risk-core/internal/events"
	"risk-core/pkg/errs"
)

// Observer receives every trade that enters the ledger, live or replayed.
type Observer interface {
	ObserveTrade(rec TradeRecord)
}

// Observers fans one trade out to several observers in order.
type Observers []Observer

func (obs Observers) ObserveTrade(rec TradeRecord) {
	for _, o := range obs {
		if o != nil {
			o.ObserveTrade(rec)
		}
	}
}

// BusObserver publishes each trade as EventTradeRecorded.
type BusObserver struct {
	Bus events.Publisher
}

func (b BusObserver) ObserveTrade(rec TradeRecord) {
	if b.Bus != nil {
		b.Bus.Publish(events.EventTradeRecorded, rec)
	}
}

// Options configures a Ledger. Zero values are valid: no journal, no observer, wall clock.
type Options struct {
	Journal  *Journal
	Observer Observer
	Clock    func() time.Time
	Logger   zerolog.Logger
}

// dayBucket indexes realized P&L for one UTC day.
type dayBucket struct {
	total    decimal.Decimal
	bySymbol map[string]decimal.Decimal
}

// Ledger is the in-memory trade collection plus its durable log.
type Ledger struct {
	mu       sync.RWMutex
	records  []TradeRecord
	seen     map[string]struct{}
	daily    map[string]*dayBucket
	journal  *Journal
	observer Observer
	now      func() time.Time
	log      zerolog.Logger
}

// ReplaySummary is reported once after loading the trade log.
type ReplaySummary struct {
	Ingested     int `json:"ingested"`
	DedupSkipped int `json:"dedupSkipped"`
	Malformed    int `json:"malformed"`
}

// New builds an empty ledger.
func New(opts Options) *Ledger {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{
		seen:     make(map[string]struct{}),
		daily:    make(map[string]*dayBucket),
		journal:  opts.Journal,
		observer: opts.Observer,
		now:      clock,
		log:      opts.Logger,
	}
}

// Now returns the ledger clock in UTC.
func (l *Ledger) Now() time.Time {
	return l.now().UTC()
}

// Build validates input and derives the trade's risk metrics. It does not store anything.
func (l *Ledger) Build(in TradeInput) (TradeRecord, error) {
	if in.Symbol == "" {
		return TradeRecord{}, errs.Invalid("symbol", errs.ReasonRequired)
	}
	if in.Timeframe == "" {
		return TradeRecord{}, errs.Invalid("timeframe", errs.ReasonRequired)
	}
	if in.Side == "" {
		return TradeRecord{}, errs.Invalid("side", errs.ReasonRequired)
	}
	required := []struct {
		name string
		v    *float64
	}{
		{"entryPrice", in.EntryPrice},
		{"exitPrice", in.ExitPrice},
		{"stopPrice", in.StopPrice},
		{"sizeUsd", in.SizeUSD},
	}
	for _, f := range required {
		if f.v == nil {
			return TradeRecord{}, errs.Invalid(f.name, errs.ReasonRequired)
		}
	}
	side := Side(in.Side)
	if side != SideLong && side != SideShort {
		return TradeRecord{}, errs.Invalid("side", errs.ReasonInvalidSide)
	}
	for _, f := range required {
		if !(*f.v > 0) || math.IsInf(*f.v, 0) {
			return TradeRecord{}, errs.Invalid(f.name, errs.ReasonNotPositive)
		}
	}

	closedAt := l.Now()
	if in.ClosedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, in.ClosedAt)
		if err != nil {
			return TradeRecord{}, errs.Invalid("closedAt", errs.ReasonInvalidTimestamp)
		}
		closedAt = t.UTC()
	}

	entry, exit, stop, size := *in.EntryPrice, *in.ExitPrice, *in.StopPrice, *in.SizeUSD
	qty := size / entry

	var gross float64
	if side == SideLong {
		gross = (exit - entry) * qty
	} else {
		gross = (entry - exit) * qty
	}
	pnl := gross - in.FeesUSD
	rUSD := math.Abs(stop-entry) * qty

	rec := TradeRecord{
		Symbol:         in.Symbol,
		Timeframe:      in.Timeframe,
		Side:           side,
		EntryPrice:     entry,
		ExitPrice:      exit,
		StopPrice:      stop,
		SizeUSD:        size,
		FeesUSD:        in.FeesUSD,
		HighPrice:      in.HighPrice,
		LowPrice:       in.LowPrice,
		Qty:            qty,
		RealizedPnLUSD: pnl,
		RUSD:           rUSD,
		Outcome:        classifyOutcome(pnl),
		ClosedAt:       closedAt,
	}

	if rUSD > 0 {
		rec.RR = pnl / rUSD

		var up, down *float64
		if in.HighPrice != nil {
			up = excursionR(*in.HighPrice-entry, qty, rUSD)
		}
		if in.LowPrice != nil {
			down = excursionR(entry-*in.LowPrice, qty, rUSD)
		}
		// Shorts profit from the low and suffer from the high.
		if side == SideLong {
			rec.MfeR, rec.MaeR = up, down
		} else {
			rec.MfeR, rec.MaeR = down, up
		}
	}
	return rec, nil
}

// excursionR converts a signed price move into R-multiples; moves against the direction count as zero.
func excursionR(move, qty, rUSD float64) *float64 {
	v := math.Max(0, move) * qty / rUSD
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Persist writes the record to the durable log. Failures are logged and swallowed;
// the in-memory ledger stays authoritative for the running process.
func (l *Ledger) Persist(rec TradeRecord) {
	if l.journal == nil {
		return
	}
	if err := l.journal.Append(rec); err != nil {
		l.log.Warn().Err(err).Str("symbol", rec.Symbol).Msg("trade log append failed (ignored)")
	}
}

// Append adds a built record to memory and reports it to the observer.
func (l *Ledger) Append(rec TradeRecord) {
	l.mu.Lock()
	l.appendLocked(rec)
	l.mu.Unlock()

	if l.observer != nil {
		l.observer.ObserveTrade(rec)
	}
}

func (l *Ledger) appendLocked(rec TradeRecord) {
	l.records = append(l.records, rec)
	l.seen[rec.DedupKey()] = struct{}{}

	day := rec.Day()
	b, ok := l.daily[day]
	if !ok {
		b = &dayBucket{bySymbol: make(map[string]decimal.Decimal)}
		l.daily[day] = b
	}
	pnl := decimal.NewFromFloat(rec.RealizedPnLUSD)
	b.total = b.total.Add(pnl)
	b.bySymbol[rec.Symbol] = b.bySymbol[rec.Symbol].Add(pnl)
}

// record builds, persists and appends a trade without any gate recheck.
// Production code records through the risk engine.
func (l *Ledger) record(in TradeInput) (TradeRecord, error) {
	rec, err := l.Build(in)
	if err != nil {
		return TradeRecord{}, err
	}
	l.Persist(rec)
	l.Append(rec)
	return rec, nil
}

// TodayPnL sums realized P&L for the current UTC day. An empty symbol means all symbols.
func (l *Ledger) TodayPnL(symbol string) float64 {
	return l.DayPnL(dayKey(l.Now()), symbol)
}

// DayPnL sums realized P&L for day (YYYY-MM-DD).
func (l *Ledger) DayPnL(day, symbol string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	b, ok := l.daily[day]
	if !ok {
		return 0
	}
	if symbol == "" {
		return b.total.InexactFloat64()
	}
	return b.bySymbol[symbol].InexactFloat64()
}

// Len returns the number of trades held in memory.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Records returns a copy of all trades in arrival order.
func (l *Ledger) Records() []TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]TradeRecord, len(l.records))
	copy(out, l.records)
	return out
}

// replayProbe checks the minimum shape a log line needs to be trusted.
type replayProbe struct {
	Symbol         *string  `json:"symbol"`
	Timeframe      *string  `json:"timeframe"`
	RealizedPnLUSD *float64 `json:"realizedPnlUsd"`
	ClosedAt       *string  `json:"closedAt"`
}

// replayable applies the field rules Build enforces to a logged record.
func (rec TradeRecord) replayable() bool {
	if rec.Symbol == "" || rec.Timeframe == "" {
		return false
	}
	if rec.Side != SideLong && rec.Side != SideShort {
		return false
	}
	for _, v := range []float64{rec.EntryPrice, rec.ExitPrice, rec.StopPrice, rec.SizeUSD} {
		if !(v > 0) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Replay rebuilds the ledger from its journal. A missing log is an empty replay.
func (l *Ledger) Replay() (ReplaySummary, error) {
	if l.journal == nil {
		return ReplaySummary{}, nil
	}
	f, err := l.journal.Open()
	if err != nil {
		if isNotExist(err) {
			return ReplaySummary{}, nil
		}
		return ReplaySummary{}, fmt.Errorf("open trade log: %w", err)
	}
	defer f.Close()
	return l.ReplayFrom(f)
}

// ReplayFrom ingests JSONL trades from r, skipping malformed lines and duplicates.
// Observer side effects run exactly once per ingested trade.
func (l *Ledger) ReplayFrom(r io.Reader) (ReplaySummary, error) {
	var (
		sum      ReplaySummary
		ingested []TradeRecord
	)

	l.mu.Lock()
	err := scanLines(r, func(line []byte) {
		var probe replayProbe
		if err := json.Unmarshal(line, &probe); err != nil ||
			probe.Symbol == nil || probe.Timeframe == nil || probe.RealizedPnLUSD == nil || probe.ClosedAt == nil {
			sum.Malformed++
			return
		}
		var rec TradeRecord
		if err := json.Unmarshal(line, &rec); err != nil || !rec.replayable() {
			sum.Malformed++
			return
		}
		rec.ClosedAt = rec.ClosedAt.UTC()
		if rec.Outcome == "" {
			rec.Outcome = classifyOutcome(rec.RealizedPnLUSD)
		}
		if _, dup := l.seen[rec.DedupKey()]; dup {
			sum.DedupSkipped++
			return
		}
		l.appendLocked(rec)
		ingested = append(ingested, rec)
		sum.Ingested++
	})
	l.mu.Unlock()

	if l.observer != nil {
		for _, rec := range ingested {
			l.observer.ObserveTrade(rec)
		}
	}
	if err != nil {
		return sum, fmt.Errorf("scan trade log: %w", err)
	}
	return sum, nil
}
