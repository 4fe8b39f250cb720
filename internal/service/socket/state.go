package socket

// State is the connection state exposed to the controller.
type State int32

const (
	Idle State = iota
	Connecting
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}
