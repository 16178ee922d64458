package risk

// EdgeState remembers the last observed value of every monitored condition
// so only flips produce audit events. Unseen conditions start inactive.
type EdgeState struct {
	last map[edgeKey]bool
}

type edgeKey struct {
	gate   Gate
	symbol string
}

func NewEdgeState() *EdgeState {
	return &EdgeState{last: make(map[edgeKey]bool)}
}

// Observe stores active and reports whether it differs from the previous value.
func (s *EdgeState) Observe(gate Gate, symbol string, active bool) bool {
	k := edgeKey{gate: gate, symbol: symbol}
	prev := s.last[k]
	s.last[k] = active
	return prev != active
}

// Active returns the last observed value.
func (s *EdgeState) Active(gate Gate, symbol string) bool {
	return s.last[edgeKey{gate: gate, symbol: symbol}]
}
