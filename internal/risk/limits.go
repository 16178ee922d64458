package risk

import (
	"math"

	"risk-core/pkg/config"
	"risk-core/pkg/errs"
)

// Gate names a blocking condition.
type Gate string

const (
	GateManualKillSwitch Gate = "manual_killswitch"
	GateDailyDrawdown    Gate = "daily_drawdown"
	GateSymbolDrawdown   Gate = "symbol_drawdown"
)

// SymbolBlockReason is the block reason recorded for a per-symbol limit.
func SymbolBlockReason(symbol string) string {
	return "daily_drawdown_symbol_" + symbol
}

// LimitMode tells how the global limit was expressed.
type LimitMode string

const (
	ModeUSD     LimitMode = "usd"
	ModePercent LimitMode = "pct"
)

// GlobalLimit is either USDLimit or PercentLimit. A nil GlobalLimit means no limit.
type GlobalLimit interface {
	Mode() LimitMode
	LimitUSD() float64
	validate() error
}

// USDLimit is an absolute daily loss limit.
type USDLimit float64

func (USDLimit) Mode() LimitMode     { return ModeUSD }
func (u USDLimit) LimitUSD() float64 { return float64(u) }

func (u USDLimit) validate() error {
	if !positive(float64(u)) {
		return errs.Invalid("usd", errs.ReasonInvalidLimit)
	}
	return nil
}

// PercentLimit is a loss limit relative to a base equity. Pct values >= 1 are
// read as whole percents (1 == 1%), smaller values as fractions (0.01 == 1%).
type PercentLimit struct {
	Pct     float64 `json:"pct"`
	BaseUSD float64 `json:"baseUsd"`
}

func (PercentLimit) Mode() LimitMode { return ModePercent }

func (p PercentLimit) LimitUSD() float64 {
	if p.Pct >= 1 {
		return p.BaseUSD * p.Pct / 100
	}
	return p.BaseUSD * p.Pct
}

func (p PercentLimit) validate() error {
	if !positive(p.Pct) || !positive(p.BaseUSD) {
		return errs.Invalid("pct", errs.ReasonInvalidLimit)
	}
	return nil
}

// LimitFromSpec converts configuration into a GlobalLimit, nil when unset.
func LimitFromSpec(spec config.GlobalLimitSpec) GlobalLimit {
	switch {
	case spec.USD > 0:
		return USDLimit(spec.USD)
	case spec.Pct > 0 && spec.BaseUSD > 0:
		return PercentLimit{Pct: spec.Pct, BaseUSD: spec.BaseUSD}
	default:
		return nil
	}
}

// GateConfig is the operator-controlled gate configuration.
type GateConfig struct {
	ManualKillSwitch bool
	Global           GlobalLimit
	SymbolLimits     map[string]float64
}

func (c GateConfig) clone() GateConfig {
	out := c
	out.SymbolLimits = make(map[string]float64, len(c.SymbolLimits))
	for k, v := range c.SymbolLimits {
		out.SymbolLimits[k] = v
	}
	return out
}

func (c GateConfig) globalLimitUSD() float64 {
	if c.Global == nil {
		return 0
	}
	return c.Global.LimitUSD()
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
