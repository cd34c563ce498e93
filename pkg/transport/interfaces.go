package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/meshfleet/meshd/pkg/overlay"
	"github.com/meshfleet/meshd/pkg/wire"
)

// Direction is which side initiated a Connection.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Status is a Connection's lifecycle state.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Connection is one bidirectional stream above the overlay.
type Connection struct {
	ID             string
	DeviceID       string // empty until bound
	Direction      Direction
	RemoteAddr     string
	Status         Status
	ConnectedAt    time.Time
	LastActivityAt time.Time
	Metadata       map[string]string
}

// HasDeviceID reports whether this connection has been bound to a remote
// device identity yet.
func (c Connection) HasDeviceID() bool { return c.DeviceID != "" }

// Error kinds from the connection transport error table.
var (
	ErrDialTimeout       = errors.New("transport: dial timed out")
	ErrDialError         = errors.New("transport: dial failed")
	ErrHeartbeatTimeout  = errors.New("transport: heartbeat timed out")
	ErrSendBufferFull    = errors.New("transport: send buffer full")
	ErrUnknownConnection = errors.New("transport: unknown connection")
	ErrNotConnected      = errors.New("transport: connection is not connected")
	ErrAlreadyBound      = errors.New("transport: connection already bound to a device id")
)

// Listener receives connection lifecycle events and forwarded overlay
// lifecycle events (status/peers/authRequired/error) — the transport owns
// the sole overlay.Client instance, so it is also the natural place to fan
// those events out to the mesh node. Implementations must not block.
type Listener interface {
	OnConnected(Connection)
	OnDisconnected(connectionID, reason string)
	OnFrame(connectionID string, env wire.Envelope)

	OnOverlayStatus(overlay.StatusData)
	OnOverlayPeers(overlay.PeersData)
	OnOverlayAuthRequired(overlay.AuthRequiredData)
	OnOverlayError(overlay.ErrorData)
}

// Transport owns every stream above the overlay: the connection map, the
// device-id/connection-id index, heartbeats, and outgoing reconnects.
type Transport interface {
	io.Closer

	// Start begins operating the transport: it starts the overlay client
	// and begins accepting/heartbeating connections.
	Start(ctx context.Context, startParams overlay.StartData) error

	// Stop stops heartbeats and reconnects and stops the overlay client.
	Stop(ctx context.Context) error

	// SetListener installs the sole listener for this transport's events.
	SetListener(l Listener)

	// Connect dials an outgoing connection to deviceID, idempotently
	// returning an existing connected row if one exists. It registers the
	// device in the reconnect ledger so future disconnects are retried.
	Connect(ctx context.Context, deviceID, hostname, dnsName string, port int) (Connection, error)

	// BindDeviceID binds an (typically incoming) connection to a remote
	// device identity, atomically updating the bidirectional index.
	BindDeviceID(connectionID, deviceID string) error

	// SendRaw sends a pre-encoded frame on connectionID. It returns false
	// if the connection is unknown or not connected.
	SendRaw(connectionID string, frame []byte) bool

	// SendEnvelope encodes env and sends it as a frame on connectionID.
	SendEnvelope(connectionID string, env wire.Envelope) bool

	// Disconnect tears down a connection with the given reason, removing it
	// from the connection map and (for outgoing rows) scheduling a
	// reconnect unless reason is "service_stopped".
	Disconnect(connectionID, reason string)

	// Get looks up a connection by id.
	Get(connectionID string) (Connection, bool)

	// GetByDeviceID looks up the connected row bound to deviceID, if any.
	GetByDeviceID(deviceID string) (Connection, bool)

	// List returns a snapshot of all known connections.
	List() []Connection

	// RequestPeers asks the overlay for its current peer list.
	RequestPeers(ctx context.Context) error
}
