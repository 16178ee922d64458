package ledger

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// StatsFilter narrows an aggregate. Zero fields match everything; From/To are inclusive.
type StatsFilter struct {
	Symbol    string     `json:"symbol,omitempty"`
	Timeframe string     `json:"timeframe,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
}

func (f StatsFilter) match(r TradeRecord) bool {
	if f.Symbol != "" && r.Symbol != f.Symbol {
		return false
	}
	if f.Timeframe != "" && r.Timeframe != f.Timeframe {
		return false
	}
	if f.From != nil && r.ClosedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && r.ClosedAt.After(*f.To) {
		return false
	}
	return true
}

// Stats aggregates trades matching a filter.
type Stats struct {
	Filters    StatsFilter         `json:"filters"`
	Total      int                 `json:"total"`
	Wins       int                 `json:"wins"`
	Losses     int                 `json:"losses"`
	Breakevens int                 `json:"breakevens"`
	Winrate    float64             `json:"winrate"`
	AvgRR      float64             `json:"avgRR"`
	AvgMaeR    float64             `json:"avgMaeR"`
	AvgMfeR    float64             `json:"avgMfeR"`
	SumPnLUSD  float64             `json:"sumPnLUsd"`
	ByOutcome  map[Outcome]float64 `json:"byOutcome"`
	PnLByDay   map[string]float64  `json:"pnlByDay"`
}

// Stats computes the aggregate for filter.
func (l *Ledger) Stats(filter StatsFilter) Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var (
		sum                     decimal.Decimal
		byOutcome               = map[Outcome]decimal.Decimal{}
		byDay                   = map[string]decimal.Decimal{}
		rr, mae, mfe            mean
		total, wins, losses, be int
	)
	for _, r := range l.records {
		if !filter.match(r) {
			continue
		}
		total++
		switch r.Outcome {
		case OutcomeWin:
			wins++
		case OutcomeLoss:
			losses++
		default:
			be++
		}
		pnl := decimal.NewFromFloat(r.RealizedPnLUSD)
		sum = sum.Add(pnl)
		byOutcome[r.Outcome] = byOutcome[r.Outcome].Add(pnl)
		byDay[r.Day()] = byDay[r.Day()].Add(pnl)

		rr.add(r.RR)
		if r.MaeR != nil {
			mae.add(*r.MaeR)
		}
		if r.MfeR != nil {
			mfe.add(*r.MfeR)
		}
	}

	st := Stats{
		Filters:    filter,
		Total:      total,
		Wins:       wins,
		Losses:     losses,
		Breakevens: be,
		AvgRR:      rr.value(),
		AvgMaeR:    mae.value(),
		AvgMfeR:    mfe.value(),
		SumPnLUSD:  sum.InexactFloat64(),
		ByOutcome: map[Outcome]float64{
			OutcomeWin:       byOutcome[OutcomeWin].InexactFloat64(),
			OutcomeLoss:      byOutcome[OutcomeLoss].InexactFloat64(),
			OutcomeBreakeven: byOutcome[OutcomeBreakeven].InexactFloat64(),
		},
		PnLByDay: make(map[string]float64, len(byDay)),
	}
	if total > 0 {
		st.Winrate = float64(wins) / float64(total)
	}
	for day, v := range byDay {
		st.PnLByDay[day] = v.InexactFloat64()
	}
	return st
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	m.sum += v
	m.n++
}

func (m mean) value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}
