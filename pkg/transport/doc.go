// Package transport declares the connection pool that sits above the
// overlay client: labelled, persistent, heartbeat-monitored bidirectional
// message streams, with auto-reconnect for outgoing connections.
package transport
