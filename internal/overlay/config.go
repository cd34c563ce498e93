package overlay

import (
	"errors"
	"time"
)

// ErrEmptyBinaryPath is returned when no sidecar binary path is configured.
var ErrEmptyBinaryPath = errors.New("overlay: binary path cannot be empty")

// Config configures a ProcessClient.
type Config struct {
	// BinaryPath is the path to the sidecar executable.
	BinaryPath string

	// StartupTimeout bounds how long Start waits for a "running" status.
	StartupTimeout time.Duration

	// ShutdownTimeout bounds how long Stop waits before force-killing.
	ShutdownTimeout time.Duration

	// DialTimeout bounds how long Dial waits for dialConnected/dialError.
	DialTimeout time.Duration
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.BinaryPath == "" {
		return ErrEmptyBinaryPath
	}
	return nil
}

// SetDefaults fills unset durations with the spec's defaults.
func (c *Config) SetDefaults() {
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
}
