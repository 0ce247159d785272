package metric

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Default values for metrics configuration.
const (
	DefaultMetricsPort     = 9090
	DefaultMetricsPath     = "/metrics"
	DefaultSystemInterval  = 5 * time.Second
	DefaultMetricNamespace = "peercall"
)

// ErrInvalidConfig is returned when the metrics configuration is invalid.
var ErrInvalidConfig = errors.New("invalid metrics config")

// Config defines the configuration for the metrics server.
type Config struct {
	Enabled bool   // Serve metrics over HTTP
	Port    int    // Port for metrics server
	Path    string // Path for metrics endpoint
}

// Validate validates the port and path when metrics are enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, given %d: %w", c.Port, ErrInvalidConfig)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path must start with '/', given %q: %w", c.Path, ErrInvalidConfig)
	}
	return nil
}
