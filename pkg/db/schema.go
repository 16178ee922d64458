package db

import (
	"context"
	"errors"
	"fmt"
)

// migrations are applied in order; the index+1 of the last applied step is
// stored in PRAGMA user_version. Append only.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		dedup_key TEXT NOT NULL UNIQUE,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		side TEXT NOT NULL,
		entry REAL NOT NULL,
		stop REAL NOT NULL,
		exit REAL NOT NULL,
		size_usd REAL NOT NULL,
		qty REAL NOT NULL,
		pnl_usd REAL NOT NULL,
		r_usd REAL NOT NULL,
		rr REAL NOT NULL,
		mae_r REAL NOT NULL,
		mfe_r REAL NOT NULL,
		outcome TEXT NOT NULL,
		strategy_id TEXT,
		closed_at TEXT NOT NULL,
		day TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_day ON trades(day);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_day ON trades(symbol, day);`,

	`CREATE TABLE IF NOT EXISTS risk_audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TEXT NOT NULL,
		gate TEXT NOT NULL,
		symbol TEXT,
		event TEXT NOT NULL,
		reason TEXT NOT NULL,
		pnl_today_usd REAL,
		limit_usd REAL
	);`,

	`CREATE INDEX IF NOT EXISTS idx_risk_audit_gate_ts ON risk_audit_events(gate, ts);`,
}

// SchemaVersion is the user_version after all migrations ran.
func SchemaVersion() int { return len(migrations) }

// ApplyMigrations brings the schema up to SchemaVersion. Each step runs in its own transaction.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return errors.New("database is not initialized")
	}
	ctx := context.Background()

	// journal_mode cannot change inside a transaction; in-memory databases ignore it.
	if _, err := d.DB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enable WAL journal: %w", err)
	}

	current, err := d.UserVersion(ctx)
	if err != nil {
		return err
	}
	for v := current; v < len(migrations); v++ {
		tx, err := d.DB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: set version: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", v+1, err)
		}
	}
	return nil
}

// UserVersion reads the applied schema version.
func (d *Database) UserVersion(ctx context.Context) (int, error) {
	var v int
	if err := d.DB.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
