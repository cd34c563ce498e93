package meshnode

import (
	"context"
	"encoding/json"

	"github.com/meshfleet/meshd/pkg/devicetable"
	"github.com/meshfleet/meshd/pkg/election"
	"github.com/meshfleet/meshd/pkg/meshnode"
	"github.com/meshfleet/meshd/pkg/overlay"
	"github.com/meshfleet/meshd/pkg/transport"
	"github.com/meshfleet/meshd/pkg/wire"
)

// -- transport.Listener --------------------------------------------------

func (n *Node) OnConnected(conn transport.Connection) {
	n.sendControlOnConnection(conn.ID, meshnode.TypeDeviceAnnounce, devicetable.AnnouncePayload{Device: n.table.LocalDevice()})
	if n.table.LocalDevice().Role == devicetable.RolePrimary {
		local := n.table.LocalDevice()
		n.sendControlOnConnection(conn.ID, meshnode.TypeDeviceList, devicetable.ListPayload{
			Devices:   n.table.RemoteDevices(),
			PrimaryID: local.ID,
		})
	}
}

func (n *Node) OnDisconnected(connectionID, reason string) {}

func (n *Node) OnFrame(connectionID string, env wire.Envelope) {
	if env.IsControlPlane() {
		n.handleControlFrame(connectionID, env)
		return
	}
	from := ""
	if conn, ok := n.transport.Get(connectionID); ok {
		from = conn.DeviceID
	}
	n.deliverLocally(env, from, connectionID)
}

func (n *Node) handleControlFrame(connectionID string, env wire.Envelope) {
	switch env.Type {
	case meshnode.TypeRouteMessage:
		n.handleRouteMessage(connectionID, env)
	case meshnode.TypeRouteBroadcast:
		n.handleRouteBroadcast(connectionID, env)
	default:
		n.handleMeshMessage(connectionID, env)
	}
}

func (n *Node) handleMeshMessage(connectionID string, env wire.Envelope) {
	var msg meshnode.MeshMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return
	}
	switch msg.Type {
	case meshnode.TypeDeviceAnnounce:
		var payload devicetable.AnnouncePayload
		if json.Unmarshal(msg.Payload, &payload) != nil {
			return
		}
		if payload.Device.ID != "" {
			if err := n.transport.BindDeviceID(connectionID, payload.Device.ID); err != nil && err != transport.ErrAlreadyBound {
				return
			}
		}
		_ = n.table.HandleDeviceAnnounce(msg.From, payload)
	case meshnode.TypeDeviceList:
		var payload devicetable.ListPayload
		if json.Unmarshal(msg.Payload, &payload) != nil {
			return
		}
		n.table.HandleDeviceList(msg.From, payload)
		n.election.SetPrimary(payload.PrimaryID)
	case meshnode.TypeDeviceGoodbye:
		var payload deviceGoodbyePayload
		if json.Unmarshal(msg.Payload, &payload) != nil {
			return
		}
		n.table.MarkDeviceOffline(payload.DeviceID)
	case meshnode.TypeElectionStart:
		n.election.HandleElectionStart(msg.From)
	case meshnode.TypeElectionCandidate:
		var c election.Candidate
		if json.Unmarshal(msg.Payload, &c) != nil {
			return
		}
		n.election.HandleCandidate(c)
	case meshnode.TypeElectionResult:
		var r election.Result
		if json.Unmarshal(msg.Payload, &r) != nil {
			return
		}
		n.election.HandleResult(r)
	}
}

func (n *Node) handleRouteMessage(connectionID string, env wire.Envelope) {
	if n.table.LocalDevice().Role != devicetable.RolePrimary {
		return
	}
	var payload meshnode.RouteMessagePayload
	if json.Unmarshal(env.Payload, &payload) != nil {
		return
	}
	if conn, ok := n.transport.GetByDeviceID(payload.TargetDeviceID); ok {
		n.transport.SendEnvelope(conn.ID, payload.Envelope)
	}
}

func (n *Node) handleRouteBroadcast(connectionID string, env wire.Envelope) {
	if n.table.LocalDevice().Role != devicetable.RolePrimary {
		return
	}
	var payload meshnode.RouteBroadcastPayload
	if json.Unmarshal(env.Payload, &payload) != nil {
		return
	}
	from := ""
	if conn, ok := n.transport.Get(connectionID); ok {
		from = conn.DeviceID
	}
	for _, conn := range n.transport.List() {
		if conn.ID == connectionID || conn.Status != transport.StatusConnected {
			continue
		}
		n.transport.SendEnvelope(conn.ID, payload.Envelope)
	}
	n.deliverLocally(payload.Envelope, from, connectionID)
}

func (n *Node) OnOverlayStatus(data overlay.StatusData) {
	if data.State == overlay.StateRunning {
		n.table.SetLocalOnline(data.IP, data.DNSName)
	}
}

func (n *Node) OnOverlayPeers(data overlay.PeersData) {
	peers := make([]devicetable.DiscoveredPeer, 0, len(data.Peers))
	for _, p := range data.Peers {
		if !p.Online {
			continue
		}
		peers = append(peers, devicetable.DiscoveredPeer{Hostname: p.Hostname, DNSName: p.DNSName})
	}
	n.table.DiscoverPeers(peers)
}

func (n *Node) OnOverlayAuthRequired(data overlay.AuthRequiredData) {}

func (n *Node) OnOverlayError(data overlay.ErrorData) {}

// -- devicetable.Listener -------------------------------------------------

func (n *Node) OnDeviceDiscovered(d devicetable.Device) {
	if d.ID == n.localID {
		return
	}
	go func() {
		_, _ = n.transport.Connect(context.Background(), d.ID, d.Hostname, d.DNSName, overlayDialPort)
	}()
}

func (n *Node) OnDeviceUpdated(d devicetable.Device) {}

func (n *Node) OnDeviceOffline(deviceID string) {}

func (n *Node) OnDevicesChanged(snapshot []devicetable.Device) {
	if l := n.currentListener(); l != nil {
		l.OnDevicesChanged(snapshot)
	}
}

func (n *Node) OnPrimaryChanged(primaryID string, hasPrimary bool) {
	n.mu.Lock()
	prev := n.lastPrimaryID
	if hasPrimary {
		n.lastPrimaryID = primaryID
	} else {
		n.lastPrimaryID = ""
	}
	n.mu.Unlock()
	if !hasPrimary && prev != "" {
		n.election.HandlePrimaryLost(prev)
	}
}

func (n *Node) OnLocalDeviceChanged(d devicetable.Device) {
	n.mu.Lock()
	changed := d.Role != n.lastRole
	n.lastRole = d.Role
	running := n.running
	n.mu.Unlock()

	if changed {
		if l := n.currentListener(); l != nil {
			l.OnRoleChanged(d.Role)
		}
		if d.Role == devicetable.RolePrimary {
			n.broadcastDeviceList()
		}
	}
	if running {
		n.broadcastAnnounce()
	}
}

// -- election.Listener ------------------------------------------------------

func (n *Node) OnBroadcastStart() {
	n.broadcastControl(meshnode.TypeElectionStart, struct{}{})
}

func (n *Node) OnBroadcastCandidate(c election.Candidate) {
	n.broadcastControl(meshnode.TypeElectionCandidate, c)
}

func (n *Node) OnBroadcastResult(r election.Result) {
	n.broadcastControl(meshnode.TypeElectionResult, r)
}

func (n *Node) OnDecided(primaryID string, localIsPrimary bool) {
	local := n.table.LocalDevice()
	n.table.HandleDeviceList(local.ID, devicetable.ListPayload{
		Devices:   n.table.RemoteDevices(),
		PrimaryID: primaryID,
	})
}

// overlayDialPort is the fixed port the sidecar listens on for dialed
// streams between mesh peers.
const overlayDialPort = 7654

var (
	_ transport.Listener   = (*Node)(nil)
	_ devicetable.Listener = (*Node)(nil)
	_ election.Listener    = (*Node)(nil)
)
