package transport

import "time"

// reconnectEntry is one row of the reconnect ledger, kept separate from the
// connection map per the spec's design note: a completed ledger removal
// must not resurrect a peer we no longer want.
type reconnectEntry struct {
	deviceID string
	hostname string
	dnsName  string
	port     int
	attempt  int
	timer    *time.Timer
}

// backoffDelay implements min(1000*2^(n-1), maxReconnectDelay) for attempt n
// (1-indexed).
func backoffDelay(attempt int, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := time.Second
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
