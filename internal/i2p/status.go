package i2p

// Status is the externally-visible state of the managed daemon. Exactly one
// value is current at any time; the Manager's supervisory goroutine is the
// only writer.
type Status int

const (
	StatusDisconnected Status = iota
	StatusStarting
	StatusConnected
	StatusStopping
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusStarting:
		return "starting"
	case StatusConnected:
		return "connected"
	case StatusStopping:
		return "stopping"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}
