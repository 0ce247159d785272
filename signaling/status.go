package signaling

import (
	"fmt"
	"time"
)

// Status is the state of the relay connection.
type Status int

// Relay connection states.
const (
	Disconnected Status = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StatusEvent describes a status transition. Attempt and Delay are set while
// Reconnecting; Err carries the failure that caused a reconnect or Failed.
type StatusEvent struct {
	Status  Status
	Attempt int
	Delay   time.Duration
	Err     error
}
