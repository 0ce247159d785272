package coordinator

import (
	"errors"
	"fmt"

	"github.com/lithammer/shortuuid/v4"

	"peercall/media"
)

// DefaultRoomID is the room joined when none is configured.
const DefaultRoomID = "main"

// ReconnectPolicy decides what a relay loss does to the call.
type ReconnectPolicy int

const (
	// RejoinRoom rejoins the room once the relay is back. An active
	// connection is kept; a negotiation in flight is reset.
	RejoinRoom ReconnectPolicy = iota

	// EndCallOnLoss ends the call as soon as the relay connection is lost.
	EndCallOnLoss
)

func (p ReconnectPolicy) String() string {
	switch p {
	case RejoinRoom:
		return "rejoin"
	case EndCallOnLoss:
		return "end"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseReconnectPolicy parses "rejoin" or "end".
func ParseReconnectPolicy(s string) (ReconnectPolicy, error) {
	switch s {
	case "rejoin", "":
		return RejoinRoom, nil
	case "end":
		return EndCallOnLoss, nil
	}
	return 0, fmt.Errorf("%q: %w", s, ErrInvalidPolicy)
}

// Below is the Error message for the coordinator configuration.
var (
	ErrInvalidRoom   = errors.New("invalid room id")
	ErrInvalidPolicy = errors.New("invalid reconnect policy")
)

// Config contains the configuration for the coordinator.
type Config struct {
	UserID      string
	RoomID      string
	Constraints media.Constraints
	Policy      ReconnectPolicy
}

// WithDefaults returns a copy with a generated participant id and the
// default room and constraints filled in.
func (c Config) WithDefaults() Config {
	if c.UserID == "" {
		c.UserID = shortuuid.New()
	}
	if c.RoomID == "" {
		c.RoomID = DefaultRoomID
	}
	if !c.Constraints.Audio && !c.Constraints.Video.Enabled {
		c.Constraints = media.DefaultConstraints
	}
	return c
}

// Validate validates the room and the policy.
func (c Config) Validate() error {
	if c.RoomID == "" {
		return fmt.Errorf("empty room: %w", ErrInvalidRoom)
	}
	if c.Policy != RejoinRoom && c.Policy != EndCallOnLoss {
		return fmt.Errorf("%d: %w", int(c.Policy), ErrInvalidPolicy)
	}
	return nil
}
