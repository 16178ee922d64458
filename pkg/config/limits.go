package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// GlobalLimitSpec is the YAML/env form of the global drawdown limit.
// Exactly one of USD or (Pct, BaseUSD) is expected to be set.
type GlobalLimitSpec struct {
	USD     float64 `yaml:"usd"`
	Pct     float64 `yaml:"pct"`
	BaseUSD float64 `yaml:"base_usd"`
}

// IsZero reports whether no limit is configured.
func (g GlobalLimitSpec) IsZero() bool {
	return g.USD <= 0 && (g.Pct <= 0 || g.BaseUSD <= 0)
}

// RiskLimitsFile is the top-level YAML structure of the risk-limit seed file.
//
//	global:
//	  usd: 100
//	symbols:
//	  BTCUSDT: 15
type RiskLimitsFile struct {
	Global  GlobalLimitSpec    `yaml:"global"`
	Symbols map[string]float64 `yaml:"symbols"`
}

// LoadRiskLimits reads the seed file. A missing file yields an empty result.
func LoadRiskLimits(path string) (*RiskLimitsFile, error) {
	out := &RiskLimitsFile{Symbols: map[string]float64{}}
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("read risk limits: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("parse risk limits: %w", err)
	}
	if out.Symbols == nil {
		out.Symbols = map[string]float64{}
	}
	for sym, usd := range out.Symbols {
		if sym == "" || usd <= 0 {
			return nil, fmt.Errorf("risk limits: symbol %q needs a positive usd limit", sym)
		}
	}
	return out, nil
}

// EnvGlobalLimit returns the global limit seeded from the environment, USD first.
func (c *Config) EnvGlobalLimit() GlobalLimitSpec {
	if c.MaxDailyDrawdownUSD > 0 {
		return GlobalLimitSpec{USD: c.MaxDailyDrawdownUSD}
	}
	if c.MaxDailyDrawdownPct > 0 && c.BaseEquityUSD > 0 {
		return GlobalLimitSpec{Pct: c.MaxDailyDrawdownPct, BaseUSD: c.BaseEquityUSD}
	}
	return GlobalLimitSpec{}
}

// ResolveGlobalLimit applies startup precedence: environment, then the seed file.
func (c *Config) ResolveGlobalLimit(file *RiskLimitsFile) GlobalLimitSpec {
	if env := c.EnvGlobalLimit(); !env.IsZero() {
		return env
	}
	if file != nil && !file.Global.IsZero() {
		if file.Global.USD > 0 {
			return GlobalLimitSpec{USD: file.Global.USD}
		}
		return GlobalLimitSpec{Pct: file.Global.Pct, BaseUSD: file.Global.BaseUSD}
	}
	return GlobalLimitSpec{}
}
