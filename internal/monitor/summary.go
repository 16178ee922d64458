package monitor

import (
	"runtime"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON view served for dashboards.
type Summary struct {
	Signals struct {
		EnqueuedTotal         float64 `json:"enqueued_total"`
		QueueUnavailableTotal float64 `json:"queue_unavailable_total"`
	} `json:"signals"`
	Risk struct {
		KillSwitch            bool               `json:"kill_switch"`
		ManualKillSwitch      bool               `json:"manual_kill_switch"`
		DailyDrawdownUSD      float64            `json:"daily_drawdown_usd"`
		DailyDrawdownLimitUSD float64            `json:"daily_drawdown_limit_usd"`
		BlocksTotal           float64            `json:"blocks_total"`
		BlocksByReason        map[string]float64 `json:"blocks_by_reason"`
		TransitionsTotal      float64            `json:"transitions_total"`
	} `json:"risk"`
	Trades struct {
		CountTotal     float64 `json:"count_total"`
		RecordsTotal   int     `json:"records_total"`
		RealizedPnLUSD struct {
			WinsTotal   float64 `json:"wins_total"`
			LossesTotal float64 `json:"losses_total"`
		} `json:"realized_pnl_usd"`
	} `json:"trades"`
	Latency struct {
		Admission LatencyStats `json:"admission"`
		Enqueue   LatencyStats `json:"enqueue"`
	} `json:"latency_ms"`
	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc_bytes"`
		HeapSys    uint64 `json:"heap_sys_bytes"`
	} `json:"runtime"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary reads current values back out of the registry.
func (m *RiskMetrics) Summary(records int) (Summary, error) {
	var s Summary
	families, err := m.registry.Gather()
	if err != nil {
		return s, err
	}
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}

	s.Signals.EnqueuedTotal = sumValues(byName["signals_enqueued_total"])
	s.Signals.QueueUnavailableTotal = sumValues(byName["signals_queue_unavailable_total"])

	s.Risk.KillSwitch = sumValues(byName["risk_kill_switch"]) > 0
	s.Risk.ManualKillSwitch = sumValues(byName["risk_manual_kill_switch"]) > 0
	s.Risk.DailyDrawdownUSD = sumValues(byName["risk_daily_drawdown_usd"])
	s.Risk.DailyDrawdownLimitUSD = sumValues(byName["risk_daily_drawdown_limit_usd"])
	s.Risk.BlocksTotal = sumValues(byName["risk_blocks_total"])
	s.Risk.BlocksByReason = byLabel(byName["risk_blocks_total"], "reason")
	s.Risk.TransitionsTotal = sumValues(byName["risk_gate_transitions_total"])

	s.Trades.CountTotal = sumValues(byName["trades_count_total"])
	s.Trades.RecordsTotal = records
	s.Trades.RealizedPnLUSD.WinsTotal = sumValues(byName["trades_realized_pnl_wins_usd_total"])
	s.Trades.RealizedPnLUSD.LossesTotal = sumValues(byName["trades_realized_pnl_losses_usd_total"])

	s.Latency.Admission = m.AdmissionLatency.Stats()
	s.Latency.Enqueue = m.EnqueueLatency.Stats()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.Runtime.Goroutines = runtime.NumGoroutine()
	s.Runtime.HeapAlloc = mem.HeapAlloc
	s.Runtime.HeapSys = mem.HeapSys
	s.Timestamp = time.Now().UTC()
	return s, nil
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	default:
		return 0
	}
}

func sumValues(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		total += metricValue(m)
	}
	return total
}

func byLabel(mf *dto.MetricFamily, label string) map[string]float64 {
	out := map[string]float64{}
	if mf == nil {
		return out
	}
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label {
				out[lp.GetValue()] += metricValue(m)
			}
		}
	}
	return out
}
