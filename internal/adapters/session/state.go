package session

type State int32

const (
	StateAwaitingIdentity State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingIdentity:
		return "awaiting_identity"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
