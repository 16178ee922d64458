// Package persistence mirrors ledger trades and audit transitions into SQLite.
// The JSONL logs stay authoritative; the mirror only serves reporting queries.
package persistence

import (
	"time"

	"github.com/rs/zerolog"

	"risk-core/internal/audit"
	"risk-core/internal/ledger"
	"risk-core/internal/risk"
	"risk-core/pkg/db"
	"risk-core/pkg/id"
)

// Mirror implements ledger.Observer and risk.AuditSink.
type Mirror struct {
	writer *BatchWriter
}

// NewMirror starts a batch writer on database.
func NewMirror(database *db.Database, log zerolog.Logger) *Mirror {
	return &Mirror{writer: NewBatchWriter(database.DB, defaultBatchRows, defaultBatchInterval, log)}
}

// ObserveTrade queues a trade insert. Replayed duplicates hit the dedup key and are ignored.
func (m *Mirror) ObserveTrade(rec ledger.TradeRecord) {
	m.writer.Write(Row{Table: "trades", Query: db.InsertTradeSQL, Args: db.TradeArgs(TradeRow(rec))})
}

// Append queues an audit insert.
func (m *Mirror) Append(evt audit.Event) {
	m.writer.Write(Row{Table: "risk_audit_events", Query: db.InsertAuditSQL, Args: db.AuditArgs(AuditRow(evt))})
}

func (m *Mirror) Flush() error { return m.writer.Flush() }

func (m *Mirror) Stats() BatchStats { return m.writer.Stats() }

func (m *Mirror) Close() error { return m.writer.Close() }

// TradeRow maps a ledger record onto the trades table.
func TradeRow(rec ledger.TradeRecord) db.TradeRow {
	return db.TradeRow{
		ID:        id.NewAt(rec.ClosedAt),
		DedupKey:  rec.DedupKey(),
		Symbol:    rec.Symbol,
		Timeframe: rec.Timeframe,
		Side:      string(rec.Side),
		Entry:     rec.EntryPrice,
		Stop:      rec.StopPrice,
		Exit:      rec.ExitPrice,
		SizeUSD:   rec.SizeUSD,
		Qty:       rec.Qty,
		PnLUSD:    rec.RealizedPnLUSD,
		RUSD:      rec.RUSD,
		RR:        rec.RR,
		MaeR:      deref(rec.MaeR),
		MfeR:      deref(rec.MfeR),
		Outcome:   string(rec.Outcome),
		ClosedAt:  rec.ClosedAt.UTC().Format(time.RFC3339Nano),
		Day:       rec.Day(),
	}
}

// AuditRow maps a gate transition onto the risk_audit_events table.
func AuditRow(evt audit.Event) db.AuditRow {
	row := db.AuditRow{
		TS:     evt.TS.UTC().Format(time.RFC3339Nano),
		Gate:   evt.Gate,
		Symbol: evt.Symbol,
		Event:  evt.Event,
		Reason: evt.Gate,
	}
	if evt.Gate == string(risk.GateSymbolDrawdown) && evt.Symbol != "" {
		row.Reason = risk.SymbolBlockReason(evt.Symbol)
	}
	if evt.Meta != nil {
		pnl, limit := evt.Meta.PnLTodayUSD, evt.Meta.LimitUSD
		row.PnLTodayUSD = &pnl
		row.LimitUSD = &limit
	}
	return row
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
