package domain

// Trigger identifies which of the close signals invoked the decision
// procedure. The set is closed; switches over it should be exhaustive.
type Trigger int

const (
	TriggerExplicit Trigger = iota
	TriggerLazy
	TriggerTimeout
)

// String returns the wire name of the trigger.
func (t Trigger) String() string {
	switch t {
	case TriggerExplicit:
		return "explicit"
	case TriggerLazy:
		return "lazy"
	case TriggerTimeout:
		return "timeout"
	}
	return "unknown"
}

// CloseReason maps the trigger to the provenance stored on the record.
func (t Trigger) CloseReason() CloseReason {
	switch t {
	case TriggerExplicit:
		return CloseReasonExplicit
	case TriggerLazy:
		return CloseReasonLazy
	case TriggerTimeout:
		return CloseReasonTimeout
	}
	return CloseReasonExplicit
}
