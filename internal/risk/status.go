package risk

// GlobalStatus is the global drawdown view.
type GlobalStatus struct {
	Mode        LimitMode `json:"mode,omitempty"`
	LimitUSD    float64   `json:"limitUsd"`
	PnLTodayUSD float64   `json:"pnlTodayUsd"`
	Breached    bool      `json:"breached"`
}

// SymbolStatus is the per-symbol drawdown view. Unconfigured symbols report a zero limit.
type SymbolStatus struct {
	Symbol      string  `json:"symbol"`
	LimitUSD    float64 `json:"limitUsd"`
	PnLTodayUSD float64 `json:"pnlTodayUsd"`
	Blocked     bool    `json:"blocked"`
}

// GateStates lists which global gates currently block.
type GateStates struct {
	ManualKillSwitch bool `json:"manualKillSwitch"`
	DailyDrawdown    bool `json:"dailyDrawdown"`
}

// Status is the full risk snapshot.
type Status struct {
	Gates    GateStates              `json:"gates"`
	Global   GlobalStatus            `json:"global"`
	BySymbol map[string]SymbolStatus `json:"bySymbol"`
}

// GlobalStatus reports the global limit and today's P&L. It does not emit audit events.
func (e *Engine) GlobalStatus() GlobalStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.globalStatusLocked()
}

// SymbolStatus reports one symbol's limit and today's P&L. It does not emit audit events.
func (e *Engine) SymbolStatus(symbol string) SymbolStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.symbolStatusLocked(symbol)
}

// KillSwitch reports the manual switch state.
func (e *Engine) KillSwitch() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.ManualKillSwitch
}

// Status reports every gate.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	global := e.globalStatusLocked()
	st := Status{
		Gates: GateStates{
			ManualKillSwitch: e.cfg.ManualKillSwitch,
			DailyDrawdown:    global.Breached,
		},
		Global:   global,
		BySymbol: make(map[string]SymbolStatus, len(e.cfg.SymbolLimits)),
	}
	for symbol := range e.cfg.SymbolLimits {
		st.BySymbol[symbol] = e.symbolStatusLocked(symbol)
	}
	return st
}

func (e *Engine) globalStatusLocked() GlobalStatus {
	pnl := e.ledger.TodayPnL("")
	st := GlobalStatus{PnLTodayUSD: pnl}
	if e.cfg.Global != nil {
		st.Mode = e.cfg.Global.Mode()
		st.LimitUSD = e.cfg.Global.LimitUSD()
		st.Breached = st.LimitUSD > 0 && pnl <= -st.LimitUSD
	}
	return st
}

func (e *Engine) symbolStatusLocked(symbol string) SymbolStatus {
	limit := e.cfg.SymbolLimits[symbol]
	pnl := e.ledger.TodayPnL(symbol)
	return SymbolStatus{
		Symbol:      symbol,
		LimitUSD:    limit,
		PnLTodayUSD: pnl,
		Blocked:     limit > 0 && pnl <= -limit,
	}
}
