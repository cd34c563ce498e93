package election

import "time"

// Config configures a Coordinator's timers.
type Config struct {
	ElectionTimeout  time.Duration
	PrimaryLossGrace time.Duration
}

// SetDefaults returns a copy of c with zero-value fields filled in.
func (c Config) SetDefaults() Config {
	out := c
	if out.ElectionTimeout <= 0 {
		out.ElectionTimeout = 3 * time.Second
	}
	if out.PrimaryLossGrace <= 0 {
		out.PrimaryLossGrace = 5 * time.Second
	}
	return out
}
