package encoder

// State is the lifecycle state of an Encoder.
type State string

const (
	// StateUnopened indicates Open has not succeeded yet.
	StateUnopened State = "UNOPENED"
	// StateWriting indicates the encoder accepts samples.
	StateWriting State = "WRITING"
	// StateFinalizing indicates the encoder is flushing and rejects samples.
	StateFinalizing State = "FINALIZING"
	// StateClosed indicates the segment file is complete (or failed).
	StateClosed State = "CLOSED"
)

// validTransitions defines which state transitions are allowed.
// Unopened -> Closed covers finalizing an encoder that never opened.
var validTransitions = map[State][]State{
	StateUnopened:   {StateWriting, StateClosed},
	StateWriting:    {StateFinalizing},
	StateFinalizing: {StateClosed},
	StateClosed:     {},
}

// canTransition checks if a transition from one state to another is valid.
func canTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateClosed
}
