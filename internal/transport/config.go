package transport

import "time"

// Config holds the tunable timers of the connection transport. Every field
// has the default named in the spec.
type Config struct {
	HeartbeatPingInterval time.Duration
	HeartbeatTimeout      time.Duration
	DialTimeout           time.Duration
	MaxReconnectDelay     time.Duration
}

// SetDefaults fills unset durations with the spec's defaults.
func (c *Config) SetDefaults() {
	if c.HeartbeatPingInterval <= 0 {
		c.HeartbeatPingInterval = 2 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 5 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}
