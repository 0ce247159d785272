// Package signal runs the development relay that pairs call participants.
package signal

import (
	"errors"
	"fmt"
	"os"

	"peercall/database"
)

const (
	// DefaultPort is the default port number for the server.
	DefaultPort = 7070

	// DefaultPath is the websocket endpoint.
	DefaultPath = "/ws"
)

// Below is the Error message for the server.
var (
	ErrInvalidPort     = errors.New("invalid port")
	ErrInvalidCertFile = errors.New("invalid cert file")
	ErrInvalidKeyFile  = errors.New("invalid key file")
)

// Config is the configuration for creating a Server instance.
type Config struct {
	Port      int
	CertFile  string
	KeyFile   string
	JWTSecret string
	Database  database.Config
}

// IsSame checks if the given config is the same as the current one.
func (c Config) IsSame(config Config) bool {
	return c.Port == config.Port && c.CertFile == config.CertFile && c.KeyFile == config.KeyFile &&
		c.JWTSecret == config.JWTSecret && c.Database == config.Database
}

// Validate validates the port number, the files for certification and the
// membership store.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("must be between 1 and 65535, given %d: %w", c.Port, ErrInvalidPort)
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}

	if c.CertFile == "" && c.KeyFile == "" {
		return nil
	}

	if _, err := os.Stat(c.CertFile); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s does not exist: %w", c.CertFile, ErrInvalidCertFile)
		}
		return fmt.Errorf("unable to access %s: %w", c.CertFile, ErrInvalidCertFile)
	}

	if _, err := os.Stat(c.KeyFile); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s does not exist: %w", c.KeyFile, ErrInvalidKeyFile)
		}
		return fmt.Errorf("unable to access %s: %w", c.KeyFile, ErrInvalidKeyFile)
	}

	return nil
}
