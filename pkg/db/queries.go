package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("record not found")

const (
	InsertTradeSQL = `
		INSERT OR IGNORE INTO trades (
			id, dedup_key, symbol, timeframe, side, entry, stop, exit, size_usd, qty,
			pnl_usd, r_usd, rr, mae_r, mfe_r, outcome, strategy_id, closed_at, day
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	InsertAuditSQL = `
		INSERT INTO risk_audit_events (ts, gate, symbol, event, reason, pnl_today_usd, limit_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
)

// TradeArgs flattens a row into InsertTradeSQL arguments.
func TradeArgs(t TradeRow) []any {
	return []any{
		t.ID, t.DedupKey, t.Symbol, t.Timeframe, t.Side, t.Entry, t.Stop, t.Exit, t.SizeUSD, t.Qty,
		t.PnLUSD, t.RUSD, t.RR, t.MaeR, t.MfeR, t.Outcome, nullString(t.StrategyID), t.ClosedAt, t.Day,
	}
}

// AuditArgs flattens a row into InsertAuditSQL arguments.
func AuditArgs(a AuditRow) []any {
	return []any{a.TS, a.Gate, nullString(a.Symbol), a.Event, a.Reason, nullFloat(a.PnLTodayUSD), nullFloat(a.LimitUSD)}
}

// Queries groups read/write helpers over the mirror tables.
type Queries struct {
	db *sql.DB
}

// Queries returns helpers bound to this database.
func (d *Database) Queries() *Queries {
	return &Queries{db: d.DB}
}

// InsertTrade writes one trade; duplicates by dedup key are ignored.
func (q *Queries) InsertTrade(ctx context.Context, t TradeRow) error {
	if _, err := q.db.ExecContext(ctx, InsertTradeSQL, TradeArgs(t)...); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// InsertAudit writes one audit event.
func (q *Queries) InsertAudit(ctx context.Context, a AuditRow) error {
	if _, err := q.db.ExecContext(ctx, InsertAuditSQL, AuditArgs(a)...); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// DailyPnL aggregates the most recent `days` UTC days, newest first.
// An empty symbol aggregates across all symbols.
func (q *Queries) DailyPnL(ctx context.Context, symbol string, days int) ([]DailyPnL, error) {
	if days <= 0 {
		days = 7
	}
	var (
		where []string
		args  []any
	)
	if symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, symbol)
	}
	query := `
		SELECT day,
		       COUNT(*),
		       SUM(CASE WHEN outcome = 'win' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN outcome = 'loss' THEN 1 ELSE 0 END),
		       COALESCE(SUM(pnl_usd), 0)
		FROM trades`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY day ORDER BY day DESC LIMIT ?"
	args = append(args, days)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query daily pnl: %w", err)
	}
	defer rows.Close()

	var out []DailyPnL
	for rows.Next() {
		var d DailyPnL
		if err := rows.Scan(&d.Day, &d.Trades, &d.Wins, &d.Losses, &d.PnLUSD); err != nil {
			return nil, fmt.Errorf("scan daily pnl: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TradeByDedupKey returns the mirrored trade or ErrNotFound.
func (q *Queries) TradeByDedupKey(ctx context.Context, key string) (*TradeRow, error) {
	var (
		t        TradeRow
		strategy sql.NullString
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, dedup_key, symbol, timeframe, side, entry, stop, exit, size_usd, qty,
		       pnl_usd, r_usd, rr, mae_r, mfe_r, outcome, strategy_id, closed_at, day
		FROM trades WHERE dedup_key = ?`, key).Scan(
		&t.ID, &t.DedupKey, &t.Symbol, &t.Timeframe, &t.Side, &t.Entry, &t.Stop, &t.Exit, &t.SizeUSD, &t.Qty,
		&t.PnLUSD, &t.RUSD, &t.RR, &t.MaeR, &t.MfeR, &t.Outcome, &strategy, &t.ClosedAt, &t.Day,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query trade: %w", err)
	}
	t.StrategyID = strategy.String
	return &t, nil
}

// RecentAudit returns up to limit audit rows, oldest first.
func (q *Queries) RecentAudit(ctx context.Context, limit int) ([]AuditRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, ts, gate, COALESCE(symbol, ''), event, reason, pnl_today_usd, limit_usd
		FROM (SELECT * FROM risk_audit_events ORDER BY id DESC LIMIT ?)
		ORDER BY id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var (
			a        AuditRow
			pnl, lim sql.NullFloat64
		)
		if err := rows.Scan(&a.ID, &a.TS, &a.Gate, &a.Symbol, &a.Event, &a.Reason, &pnl, &lim); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if pnl.Valid {
			v := pnl.Float64
			a.PnLTodayUSD = &v
		}
		if lim.Valid {
			v := lim.Float64
			a.LimitUSD = &v
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
