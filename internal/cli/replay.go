package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"risk-core/internal/ledger"
	"risk-core/internal/monitor"
)

type replayReport struct {
	Path        string               `json:"path"`
	Summary     ledger.ReplaySummary `json:"summary"`
	Records     int                  `json:"records"`
	PnLTodayUSD float64              `json:"pnlTodayUsd"`
	BySymbol    map[string]float64   `json:"pnlTodayBySymbol"`
	Stats       ledger.Stats         `json:"stats"`
	Metrics     *monitor.Summary     `json:"metrics,omitempty"`
}

func newReplayCmd(rc *rootConfig) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Load a trade log and print the replay summary without serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = rc.cfg.TradesLogPath
			}
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open trade log: %w", err)
			}
			defer f.Close()

			metrics := monitor.NewRiskMetrics()
			l := ledger.New(ledger.Options{Observer: metrics, Logger: rc.log})
			summary, err := l.ReplayFrom(f)
			if err != nil {
				return err
			}

			report := replayReport{
				Path:        path,
				Summary:     summary,
				Records:     l.Len(),
				PnLTodayUSD: l.TodayPnL(""),
				BySymbol:    map[string]float64{},
				Stats:       l.Stats(ledger.StatsFilter{}),
			}
			for _, sym := range symbols(l.Records()) {
				report.BySymbol[sym] = l.TodayPnL(sym)
			}
			if ms, err := metrics.Summary(l.Len()); err == nil {
				report.Metrics = &ms
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&path, "trades", "", "trade log path (default TRADES_LOG_PATH)")
	return cmd
}

func symbols(recs []ledger.TradeRecord) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range recs {
		if !seen[r.Symbol] {
			seen[r.Symbol] = true
			out = append(out, r.Symbol)
		}
	}
	sort.Strings(out)
	return out
}
