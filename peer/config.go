// Package peer wraps the underlying WebRTC peer connection.
package peer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/logging"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
)

// DefaultICEServer is the STUN server used when none is configured.
const DefaultICEServer = "stun:stun.l.google.com:19302"

// ErrInvalidPortRange is returned when the UDP port range is invalid.
var ErrInvalidPortRange = errors.New("invalid udp port range")

// Config defines the configuration of the connections created by a factory.
type Config struct {
	ICEServers []string // STUN/TURN urls
	MinUDPPort int      // Minimum UDP port for WebRTC, 0 for any
	MaxUDPPort int      // Maximum UDP port for WebRTC, 0 for any
	LogLevel   string   // pion log level
	Net        transport.Net
}

// DefaultConfig returns a config using the public STUN server.
func DefaultConfig() Config {
	return Config{
		ICEServers: []string{DefaultICEServer},
		LogLevel:   "warn",
	}
}

// Validate validates the UDP port range.
func (c Config) Validate() error {
	if c.MinUDPPort == 0 && c.MaxUDPPort == 0 {
		return nil
	}
	if c.MinUDPPort < 1 || c.MinUDPPort > 65535 {
		return fmt.Errorf("min port %d: %w", c.MinUDPPort, ErrInvalidPortRange)
	}
	if c.MaxUDPPort < 1 || c.MaxUDPPort > 65535 {
		return fmt.Errorf("max port %d: %w", c.MaxUDPPort, ErrInvalidPortRange)
	}
	if c.MinUDPPort > c.MaxUDPPort {
		return fmt.Errorf("min port (%d) > max port (%d): %w", c.MinUDPPort, c.MaxUDPPort, ErrInvalidPortRange)
	}
	return nil
}

// SetPortRange sets the ephemeral UDP port range for WebRTC.
func (c Config) SetPortRange(s *webrtc.SettingEngine) error {
	if c.MinUDPPort == 0 && c.MaxUDPPort == 0 {
		return nil
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if err := s.SetEphemeralUDPPortRange(uint16(c.MinUDPPort), uint16(c.MaxUDPPort)); err != nil {
		return fmt.Errorf("failed to set ephemeral UDP port range: %w", err)
	}
	return nil
}

func (c Config) webrtcConfig() webrtc.Configuration {
	var conf webrtc.Configuration
	if len(c.ICEServers) > 0 {
		conf.ICEServers = []webrtc.ICEServer{{URLs: c.ICEServers}}
	}
	return conf
}

func (c Config) loggerFactory() logging.LoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	switch strings.ToLower(c.LogLevel) {
	case "trace":
		f.DefaultLogLevel = logging.LogLevelTrace
	case "debug":
		f.DefaultLogLevel = logging.LogLevelDebug
	case "info":
		f.DefaultLogLevel = logging.LogLevelInfo
	case "error":
		f.DefaultLogLevel = logging.LogLevelError
	case "none", "off", "disabled":
		f.DefaultLogLevel = logging.LogLevelDisabled
	default:
		f.DefaultLogLevel = logging.LogLevelWarn
	}
	return f
}
