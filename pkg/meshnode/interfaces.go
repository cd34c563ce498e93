package meshnode

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/meshfleet/meshd/pkg/devicetable"
	"github.com/meshfleet/meshd/pkg/wire"
)

// ErrClosed is returned by Start when the node has already been closed.
var ErrClosed = errors.New("meshnode: node is closed")

// Config configures a Node's local identity and cadence timers. Overlay,
// transport, device-table, and election tuning live in their own configs;
// those components are built and configured before they are handed to the
// node.
type Config struct {
	StateDir       string
	AuthKey        string
	StaticPath     string
	HostnamePrefix string

	LocalDeviceID   string
	LocalDeviceType string
	LocalDeviceName string

	UserDesignatedPrimary bool

	AnnounceInterval time.Duration
	DiscoveryWarmup  time.Duration
}

// HealthStatus summarizes the node's operating state.
type HealthStatus struct {
	Running          bool
	Role             devicetable.Role
	PrimaryID        string
	HasPrimary       bool
	ConnectedDevices int
}

// Listener receives node-level events for application wiring (the message
// bus is the canonical consumer). Implementations must not block.
type Listener interface {
	OnIncomingMessage(IncomingMessage)
	OnRoleChanged(devicetable.Role)
	OnDevicesChanged([]devicetable.Device)
}

// Node composes the overlay client, transport, device table, and election
// coordinator into peer discovery, election, and message routing.
type Node interface {
	io.Closer

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SetListener(l Listener)

	// SendEnvelope routes env to targetID: directly if connected, via the
	// primary if secondary and a primary is known, as a loopback if
	// targetID is the local device. Returns false if delivery is not
	// currently possible.
	SendEnvelope(ctx context.Context, targetID string, env wire.Envelope) bool

	// BroadcastEnvelope sends env to every known device, fanning out via
	// the primary if the local role is secondary.
	BroadcastEnvelope(ctx context.Context, env wire.Envelope)

	IsRunning() bool
	IsPrimary() bool
	LocalDeviceID() string
	Health() HealthStatus
}
