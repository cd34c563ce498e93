// Package meshnode implements meshnode.Node: the composition root that
// wires a transport, a device table, and an election coordinator into peer
// discovery, primary election, and application message routing.
package meshnode

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/meshfleet/meshd/pkg/devicetable"
	"github.com/meshfleet/meshd/pkg/election"
	"github.com/meshfleet/meshd/pkg/meshnode"
	"github.com/meshfleet/meshd/pkg/overlay"
	"github.com/meshfleet/meshd/pkg/transport"
	"github.com/meshfleet/meshd/pkg/wire"
)

// Node wires a Transport, a device Table, and an election Coordinator
// together. It is constructed with those three already built, since the
// transport must be handed its overlay client separately (see internal/daemon)
// before the node ever calls Start.
type Node struct {
	mu sync.Mutex

	config  meshnode.Config
	localID string

	transport transport.Transport
	table     devicetable.Table
	election  election.Coordinator

	listener meshnode.Listener

	running bool
	closed  bool

	lastRole      devicetable.Role
	lastPrimaryID string

	announceStop chan struct{}
	announceWG   sync.WaitGroup
}

// New builds a Node from an already-validated set of components. config is
// validated and defaulted; transport, table, and election must be freshly
// constructed and not yet started.
func New(config meshnode.Config, tr transport.Transport, table devicetable.Table, coord election.Coordinator) (*Node, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	config = applyConfigDefaults(config)
	return &Node{
		config:    config,
		localID:   config.LocalDeviceID,
		transport: tr,
		table:     table,
		election:  coord,
	}, nil
}

func (n *Node) SetListener(l meshnode.Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listener = l
}

func (n *Node) currentListener() meshnode.Listener {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.listener
}

// Start records startedAt, wires itself as the listener on the transport,
// table, and election coordinator, installs the local device identity,
// starts the transport, kicks off periodic announce, and after a warmup
// delay requests the overlay's peer list.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return meshnode.ErrClosed
	}
	if n.running {
		n.mu.Unlock()
		return nil
	}
	startedAt := time.Now().UTC()
	n.mu.Unlock()

	n.transport.SetListener(n)
	n.table.SetListener(n)
	n.election.SetListener(n)

	hostname := deviceHostname(n.config.HostnamePrefix, n.config.LocalDeviceType, n.localID)
	n.table.SetLocalDevice(devicetable.Device{
		ID:        n.localID,
		Type:      n.config.LocalDeviceType,
		Name:      n.config.LocalDeviceName,
		Hostname:  hostname,
		Status:    devicetable.StatusConnecting,
		StartedAt: startedAt,
	})

	if err := n.transport.Start(ctx, overlay.StartData{
		Hostname:       hostname,
		StateDir:       n.config.StateDir,
		AuthKey:        n.config.AuthKey,
		StaticPath:     n.config.StaticPath,
		HostnamePrefix: n.config.HostnamePrefix,
	}); err != nil {
		return err
	}

	n.mu.Lock()
	n.running = true
	n.announceStop = make(chan struct{})
	n.mu.Unlock()

	n.election.HandleNoPrimaryOnStartup()

	n.announceWG.Add(1)
	go n.runAnnounceLoop()

	time.AfterFunc(n.config.DiscoveryWarmup, func() {
		if n.IsRunning() {
			_ = n.transport.RequestPeers(context.Background())
		}
	})

	return nil
}

// Stop broadcasts device:goodbye, stops the transport, marks the local
// device offline, and resets the election coordinator and device table so
// no timer either owns survives the call. The node is not restartable
// after Stop.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	stop := n.announceStop
	n.mu.Unlock()

	if stop != nil {
		close(stop)
		n.announceWG.Wait()
	}

	n.broadcastControl(meshnode.TypeDeviceGoodbye, deviceGoodbyePayload{DeviceID: n.localID})

	stopErr := n.transport.Stop(ctx)
	n.table.SetLocalOffline()
	_ = n.election.Close()
	_ = n.table.Close()
	return stopErr
}

// Close stops the node if running and releases the table and election
// coordinator permanently.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	_ = n.Stop(context.Background())
	_ = n.transport.Close()
	_ = n.table.Close()
	_ = n.election.Close()
	return nil
}

func (n *Node) IsRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

func (n *Node) IsPrimary() bool {
	return n.table.LocalDevice().Role == devicetable.RolePrimary
}

func (n *Node) LocalDeviceID() string {
	return n.localID
}

func (n *Node) Health() meshnode.HealthStatus {
	local := n.table.LocalDevice()
	primaryID, hasPrimary := n.table.PrimaryID()
	return meshnode.HealthStatus{
		Running:          n.IsRunning(),
		Role:             local.Role,
		PrimaryID:        primaryID,
		HasPrimary:       hasPrimary,
		ConnectedDevices: len(n.transport.List()),
	}
}

type deviceGoodbyePayload struct {
	DeviceID string `json:"deviceId"`
}

func deviceHostname(prefix, deviceType, id string) string {
	return prefix + "-" + deviceType + "-" + id
}

func (n *Node) runAnnounceLoop() {
	defer n.announceWG.Done()
	ticker := time.NewTicker(n.config.AnnounceInterval)
	defer ticker.Stop()
	stop := n.announceStop
	for {
		select {
		case <-ticker.C:
			n.broadcastAnnounce()
		case <-stop:
			return
		}
	}
}

func (n *Node) broadcastAnnounce() {
	n.broadcastControl(meshnode.TypeDeviceAnnounce, devicetable.AnnouncePayload{Device: n.table.LocalDevice()})
}

func (n *Node) broadcastDeviceList() {
	local := n.table.LocalDevice()
	n.broadcastControl(meshnode.TypeDeviceList, devicetable.ListPayload{
		Devices:   n.table.RemoteDevices(),
		PrimaryID: local.ID,
	})
}

// sendControlOnConnection marshals payload into a meshnode.MeshMessage of msgType and
// sends it on a single connection.
func (n *Node) sendControlOnConnection(connectionID, msgType string, payload interface{}) bool {
	env, ok := n.buildControlEnvelope(msgType, payload)
	if !ok {
		return false
	}
	return n.transport.SendEnvelope(connectionID, env)
}

// buildControlEnvelope builds the wire.Envelope for msgType. Routing
// messages (route:message, route:broadcast) carry their payload directly,
// since the sender's identity is recovered from the connection binding
// rather than a from field. Every other control type is wrapped in a
// meshnode.MeshMessage carrying from/timestamp alongside the payload.
func (n *Node) buildControlEnvelope(msgType string, payload interface{}) (wire.Envelope, bool) {
	if msgType == meshnode.TypeRouteMessage || msgType == meshnode.TypeRouteBroadcast {
		raw, err := json.Marshal(payload)
		if err != nil {
			return wire.Envelope{}, false
		}
		return wire.NewEnvelope(wire.MeshNamespace, msgType, raw), true
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return wire.Envelope{}, false
	}
	msg := meshnode.MeshMessage{
		Type:      msgType,
		From:      n.localID,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return wire.Envelope{}, false
	}
	return wire.NewEnvelope(wire.MeshNamespace, msgType, msgBytes), true
}

func (n *Node) broadcastControl(msgType string, payload interface{}) {
	env, ok := n.buildControlEnvelope(msgType, payload)
	if !ok {
		return
	}
	for _, conn := range n.transport.List() {
		if conn.Status == transport.StatusConnected {
			n.transport.SendEnvelope(conn.ID, env)
		}
	}
}

func (n *Node) deliverLocally(env wire.Envelope, from, connectionID string) {
	if l := n.currentListener(); l != nil {
		l.OnIncomingMessage(meshnode.IncomingMessage{
			From:         from,
			ConnectionID: connectionID,
			Namespace:    env.Namespace,
			Type:         env.Type,
			Payload:      env.Payload,
		})
	}
}

// SendEnvelope delivers env to targetID: as a loopback if targetID is the
// local device, directly if a connection is bound to it, or wrapped in
// mesh/route:message via the primary if the local role is secondary.
func (n *Node) SendEnvelope(ctx context.Context, targetID string, env wire.Envelope) bool {
	local := n.table.LocalDevice()
	if targetID == local.ID {
		n.deliverLocally(env, local.ID, "")
		return true
	}
	if conn, ok := n.transport.GetByDeviceID(targetID); ok {
		return n.transport.SendEnvelope(conn.ID, env)
	}
	if local.Role == devicetable.RoleSecondary {
		if primaryID, hasPrimary := n.table.PrimaryID(); hasPrimary {
			if pconn, ok := n.transport.GetByDeviceID(primaryID); ok {
				return n.sendControlOnConnection(pconn.ID, meshnode.TypeRouteMessage, meshnode.RouteMessagePayload{
					TargetDeviceID: targetID,
					Envelope:       env,
				})
			}
		}
	}
	return false
}

// BroadcastEnvelope sends env to every connected device. As primary it
// fans out directly and surfaces a local echo; as secondary it wraps in
// mesh/route:broadcast and sends to the primary for fanout.
func (n *Node) BroadcastEnvelope(ctx context.Context, env wire.Envelope) {
	local := n.table.LocalDevice()
	if local.Role == devicetable.RolePrimary {
		for _, conn := range n.transport.List() {
			if conn.HasDeviceID() && conn.Status == transport.StatusConnected {
				n.transport.SendEnvelope(conn.ID, env)
			}
		}
		n.deliverLocally(env, local.ID, "")
		return
	}
	if primaryID, hasPrimary := n.table.PrimaryID(); hasPrimary {
		if pconn, ok := n.transport.GetByDeviceID(primaryID); ok {
			n.sendControlOnConnection(pconn.ID, meshnode.TypeRouteBroadcast, meshnode.RouteBroadcastPayload{Envelope: env})
		}
	}
}

var _ meshnode.Node = (*Node)(nil)
