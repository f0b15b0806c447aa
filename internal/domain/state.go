package domain

// SessionState is the lifecycle state of a tactical voice session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateJoining
	StateBriefing
	StateListening
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateBriefing:
		return "briefing"
	case StateListening:
		return "listening"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
