// Package meshnode declares the composition root that wires the overlay
// client, connection transport, device table, and election coordinator
// into peer discovery, primary election, and message routing.
package meshnode
