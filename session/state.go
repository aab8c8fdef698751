package session

// State is the position of a session in its connection lifecycle.
//
//	Idle -> Scanning -> Found -> Connecting -> Subscribing -> Streaming
//	                                 |              |             |
//	                                 v              v             v
//	                            Disconnected -> (Scanning | Idle)
type State int

const (
	StateIdle State = iota
	StateScanning
	StateFound
	StateConnecting
	StateSubscribing
	StateStreaming
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateFound:
		return "found"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}
