// Package signaling maintains the connection to the signaling relay.
package signaling

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Default values for the relay connection.
const (
	DefaultBaseDelay      = time.Second
	DefaultMaxDelay       = 8 * time.Second
	DefaultMultiplier     = 1.5
	DefaultMaxAttempts    = 10
	DefaultConnectTimeout = 8 * time.Second
)

// Below is the Error message for the relay configuration.
var (
	ErrInvalidURL      = errors.New("invalid relay url")
	ErrInvalidBackoff  = errors.New("invalid backoff")
	ErrInvalidAttempts = errors.New("invalid max attempts")
	ErrInvalidTimeout  = errors.New("invalid connect timeout")
)

// Config is the configuration of a Channel.
type Config struct {
	URL            string
	Token          string
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	MaxAttempts    int
	ConnectTimeout time.Duration
}

// WithDefaults returns a copy of the config with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.BaseDelay == 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = DefaultMultiplier
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	return c
}

// Validate validates the relay url and the reconnect policy.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("parse %q: %w", c.URL, ErrInvalidURL)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("scheme must be ws or wss, given %q: %w", u.Scheme, ErrInvalidURL)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q: %w", c.URL, ErrInvalidURL)
	}

	if c.BaseDelay <= 0 || c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("base %s, max %s: %w", c.BaseDelay, c.MaxDelay, ErrInvalidBackoff)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, given %v: %w", c.Multiplier, ErrInvalidBackoff)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("given %d: %w", c.MaxAttempts, ErrInvalidAttempts)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("given %s: %w", c.ConnectTimeout, ErrInvalidTimeout)
	}
	return nil
}

// Backoff returns the reconnect delay policy of the config.
func (c Config) Backoff() Backoff {
	return Backoff{
		Base:       c.BaseDelay,
		Max:        c.MaxDelay,
		Multiplier: c.Multiplier,
	}
}
