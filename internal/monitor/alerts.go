package monitor

import "github.com/rs/zerolog"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to a logger at error level.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Send(message string) error {
	s.Log.Error().Str("alert", message).Msg("risk alert")
	return nil
}
