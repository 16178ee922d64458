package db

// TradeRow mirrors one ledger trade.
type TradeRow struct {
	ID         string
	DedupKey   string
	Symbol     string
	Timeframe  string
	Side       string
	Entry      float64
	Stop       float64
	Exit       float64
	SizeUSD    float64
	Qty        float64
	PnLUSD     float64
	RUSD       float64
	RR         float64
	MaeR       float64
	MfeR       float64
	Outcome    string
	StrategyID string
	ClosedAt   string // RFC3339Nano, UTC
	Day        string // YYYY-MM-DD
}

// AuditRow mirrors one risk gate transition.
type AuditRow struct {
	ID          int64
	TS          string
	Gate        string
	Symbol      string
	Event       string
	Reason      string
	PnLTodayUSD *float64
	LimitUSD    *float64
}

// DailyPnL is one UTC day of aggregated realized results.
type DailyPnL struct {
	Day    string  `json:"day"`
	Trades int     `json:"trades"`
	Wins   int     `json:"wins"`
	Losses int     `json:"losses"`
	PnLUSD float64 `json:"pnlUsd"`
}
