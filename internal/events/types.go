package events

// Event enumerates high-level topics inside the risk core.
type Event string

const (
	EventTradeRecorded  Event = "trade.recorded"
	EventRiskAudit      Event = "risk.audit"
	EventSignalAdmitted Event = "signal.admitted"
	EventSignalBlocked  Event = "signal.blocked"
)

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(e Event, payload any)
}
