package overlay

import (
	"context"
	"errors"
	"io"
)

// Error kinds from the overlay client error table.
var (
	// ErrStartupTimeout is returned by Start when the sidecar does not
	// reach StateRunning within the configured timeout.
	ErrStartupTimeout = errors.New("overlay: startup timed out")
	// ErrStartupError is returned by Start when the sidecar reports
	// StateError during startup.
	ErrStartupError = errors.New("overlay: sidecar reported an error during startup")
	// ErrDialTimeout is returned by Dial when no dialConnected/dialError
	// event arrives within the dial timeout.
	ErrDialTimeout = errors.New("overlay: dial timed out")
	// ErrDialError wraps a dialError event's message.
	ErrDialError = errors.New("overlay: dial failed")
	// ErrNotRunning is returned by any operation attempted before Start has
	// spawned the sidecar. After Stop, operations fail with the error of the
	// write to the exited sidecar's stdin instead.
	ErrNotRunning = errors.New("overlay: client is not running")
)

// Listener receives out-of-band events from the sidecar as they occur.
// Implementations must not block; long work should be handed off to
// another goroutine. All methods may be called concurrently and must be
// safe to re-enter (e.g. calling back into the Client from a callback).
type Listener interface {
	OnStatus(StatusData)
	OnAuthRequired(AuthRequiredData)
	OnPeers(PeersData)
	OnWsConnect(WsConnectData)
	OnWsMessage(WsMessageEventData)
	OnWsDisconnect(WsDisconnectData)
	OnDialConnected(DialConnectedData)
	OnDialMessage(DialMessageEventData)
	OnDialDisconnect(DialDisconnectData)
	OnDialError(DialErrorData)
	OnError(ErrorData)
}

// Client drives the sidecar's line-delimited JSON IPC protocol.
type Client interface {
	io.Closer

	// Start spawns the sidecar and blocks until it reports StateRunning,
	// or fails with ErrStartupTimeout / ErrStartupError. Auth challenges
	// surfaced as an authRequired event do not resolve Start; they are
	// delivered to the configured Listener out of band.
	Start(ctx context.Context, params StartData) error

	// Stop asks the sidecar to leave the overlay and waits for the child
	// process to exit, force-killing it after the configured grace period.
	Stop(ctx context.Context) error

	// Send writes data on an accepted (incoming) stream.
	Send(ctx context.Context, connectionID, data string) error

	// GetPeers asks the sidecar for the current peer list. The response
	// arrives asynchronously via Listener.OnPeers; GetPeers itself only
	// reports whether the request was sent.
	GetPeers(ctx context.Context) error

	// Dial opens an outgoing stream to a peer, resolving once dialConnected
	// fires for deviceID or failing with ErrDialTimeout/ErrDialError.
	Dial(ctx context.Context, params DialData) error

	// DialClose closes an outgoing stream previously opened with Dial.
	DialClose(ctx context.Context, deviceID string) error

	// DialMessage writes data on an outgoing (dialed) stream.
	DialMessage(ctx context.Context, deviceID, data string) error
}
