package ledger

import (
	"strconv"
	"strings"
	"time"
)

// Side is the trade direction.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Outcome classifies a closed trade by realized P&L.
type Outcome string

const (
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeBreakeven Outcome = "breakeven"
)

// breakevenBand is the absolute USD band treated as breakeven.
const breakevenBand = 1e-6

// TradeInput is the raw closed-trade payload. Pointer fields distinguish
// "absent" from zero so required-field checks can report the field name.
type TradeInput struct {
	Symbol     string   `json:"symbol"`
	Timeframe  string   `json:"timeframe"`
	Side       string   `json:"side"`
	EntryPrice *float64 `json:"entryPrice"`
	ExitPrice  *float64 `json:"exitPrice"`
	StopPrice  *float64 `json:"stopPrice"`
	SizeUSD    *float64 `json:"sizeUsd"`
	FeesUSD    float64  `json:"feesUsd"`
	HighPrice  *float64 `json:"highPrice,omitempty"`
	LowPrice   *float64 `json:"lowPrice,omitempty"`
	ClosedAt   string   `json:"closedAt,omitempty"`
}

// TradeRecord is one immutable closed trade plus its derived risk metrics.
// This is the exact line format of the trade log.
type TradeRecord struct {
	Symbol         string    `json:"symbol"`
	Timeframe      string    `json:"timeframe"`
	Side           Side      `json:"side"`
	EntryPrice     float64   `json:"entryPrice"`
	ExitPrice      float64   `json:"exitPrice"`
	StopPrice      float64   `json:"stopPrice"`
	SizeUSD        float64   `json:"sizeUsd"`
	FeesUSD        float64   `json:"feesUsd"`
	HighPrice      *float64  `json:"highPrice,omitempty"`
	LowPrice       *float64  `json:"lowPrice,omitempty"`
	Qty            float64   `json:"qty"`
	RealizedPnLUSD float64   `json:"realizedPnlUsd"`
	RUSD           float64   `json:"rUsd"`
	RR             float64   `json:"rr"`
	MaeR           *float64  `json:"maeR,omitempty"`
	MfeR           *float64  `json:"mfeR,omitempty"`
	Outcome        Outcome   `json:"outcome"`
	ClosedAt       time.Time `json:"closedAt"`
}

// DedupKey identifies a trade across log replays.
func (r TradeRecord) DedupKey() string {
	return strings.Join([]string{
		r.Symbol,
		r.Timeframe,
		string(r.Side),
		formatFloat(r.EntryPrice),
		formatFloat(r.ExitPrice),
		formatFloat(r.StopPrice),
		formatFloat(r.SizeUSD),
		formatFloat(r.FeesUSD),
		r.ClosedAt.UTC().Format(time.RFC3339Nano),
	}, "|")
}

// Day is the UTC calendar day the trade closed on.
func (r TradeRecord) Day() string {
	return dayKey(r.ClosedAt)
}

// ObservableRR returns the R:R value that belongs in the distribution.
// Only trades with a risk denominator and a positive return qualify.
func (r TradeRecord) ObservableRR() (float64, bool) {
	if r.RUSD > 0 && r.RR > 0 {
		return r.RR, true
	}
	return 0, false
}

func classifyOutcome(pnl float64) Outcome {
	switch {
	case pnl > breakevenBand:
		return OutcomeWin
	case pnl < -breakevenBand:
		return OutcomeLoss
	default:
		return OutcomeBreakeven
	}
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
