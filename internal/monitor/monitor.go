package monitor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"risk-core/internal/audit"
	"risk-core/internal/events"
)

// Monitor turns gate activations seen on the bus into alerts.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
	Log  zerolog.Logger
}

// Start subscribes to audit events until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		m.Log.Info().Msg("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.Subscribe(events.EventRiskAudit, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				alert, fire := formatAlert(msg)
				if !fire {
					continue
				}
				if err := m.Sink.Send(alert); err != nil {
					m.Log.Warn().Err(err).Msg("alert delivery failed")
				}
			}
		}
	}()
}

// formatAlert renders activations only; deactivations are informational.
func formatAlert(msg any) (string, bool) {
	evt, ok := msg.(audit.Event)
	if !ok || evt.Event != audit.Activated {
		return "", false
	}
	text := fmt.Sprintf("[%s] %s activated", evt.TS.Format("2006-01-02T15:04:05Z07:00"), evt.Gate)
	if evt.Symbol != "" {
		text += " for " + evt.Symbol
	}
	if evt.Meta != nil {
		text += fmt.Sprintf(" (pnl_today_usd=%.2f limit_usd=%.2f)", evt.Meta.PnLTodayUSD, evt.Meta.LimitUSD)
	}
	return text, true
}
