package transport

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/meshfleet/meshd/pkg/overlay"
	"github.com/meshfleet/meshd/pkg/transport"
	"github.com/meshfleet/meshd/pkg/wire"

	internalwire "github.com/meshfleet/meshd/internal/wire"
)

// Pool is the sole overlay.Listener for its overlay.Client. Connection
// lifecycle events become transport.Connection rows and transport.Listener
// calls; everything else is forwarded to the transport.Listener's
// OnOverlay* methods unchanged.

func (p *Pool) OnStatus(data overlay.StatusData) {
	if l := p.currentListener(); l != nil {
		l.OnOverlayStatus(data)
	}
}

func (p *Pool) OnAuthRequired(data overlay.AuthRequiredData) {
	if l := p.currentListener(); l != nil {
		l.OnOverlayAuthRequired(data)
	}
}

func (p *Pool) OnPeers(data overlay.PeersData) {
	if l := p.currentListener(); l != nil {
		l.OnOverlayPeers(data)
	}
}

func (p *Pool) OnError(data overlay.ErrorData) {
	if l := p.currentListener(); l != nil {
		l.OnOverlayError(data)
	}
}

func (p *Pool) OnWsConnect(data overlay.WsConnectData) {
	now := time.Now()
	p.mu.Lock()
	p.connections[data.ConnectionID] = &connState{
		conn: transport.Connection{
			ID:             data.ConnectionID,
			Direction:      transport.DirectionIncoming,
			RemoteAddr:     data.RemoteAddr,
			Status:         transport.StatusConnected,
			ConnectedAt:    now,
			LastActivityAt: now,
		},
		stopHB: make(chan struct{}),
	}
	conn := p.connections[data.ConnectionID].conn
	listener := p.listener
	p.mu.Unlock()

	go p.runHeartbeat(data.ConnectionID)

	if listener != nil {
		listener.OnConnected(conn)
	}
}

func (p *Pool) OnWsMessage(data overlay.WsMessageEventData) {
	p.dispatchIncoming(data.ConnectionID, data.Data)
}

func (p *Pool) OnWsDisconnect(data overlay.WsDisconnectData) {
	p.Disconnect(data.ConnectionID, data.Reason)
}

func (p *Pool) OnDialConnected(data overlay.DialConnectedData) {
	connID := "dial:" + data.DeviceID
	p.mu.Lock()
	if cs, ok := p.connections[connID]; ok {
		cs.conn.RemoteAddr = data.RemoteAddr
	}
	p.mu.Unlock()
}

func (p *Pool) OnDialMessage(data overlay.DialMessageEventData) {
	p.dispatchIncoming("dial:"+data.DeviceID, data.Data)
}

func (p *Pool) OnDialDisconnect(data overlay.DialDisconnectData) {
	p.Disconnect("dial:"+data.DeviceID, data.Reason)
}

func (p *Pool) OnDialError(data overlay.DialErrorData) {
	connID := "dial:" + data.DeviceID
	p.mu.Lock()
	_, exists := p.connections[connID]
	p.mu.Unlock()
	if exists {
		p.Disconnect(connID, "dial_error: "+data.Error)
	}
}

func (p *Pool) currentListener() transport.Listener {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listener
}

// dispatchIncoming decodes a base64 sidecar payload, reassembles frames
// through the codec's streaming decoder, and answers heartbeats before
// anything reaches the transport listener.
func (p *Pool) dispatchIncoming(connID, encoded string) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return
	}

	p.mu.Lock()
	cs, ok := p.connections[connID]
	if !ok {
		p.mu.Unlock()
		return
	}
	cs.conn.LastActivityAt = time.Now()
	cs.buffer = append(cs.buffer, raw...)
	buffer := cs.buffer
	listener := p.listener
	p.mu.Unlock()

	envelopes, remaining, err := internalwire.DecodeStream(p.codec, buffer)
	if err != nil {
		p.Disconnect(connID, "protocol_error")
		return
	}

	p.mu.Lock()
	if cs, ok := p.connections[connID]; ok {
		cs.buffer = remaining
	}
	p.mu.Unlock()

	for _, env := range envelopes {
		if env.IsControlPlane() && env.Type == pingType {
			p.SendEnvelope(connID, wire.Envelope{Namespace: wire.MeshNamespace, Type: pongType, Timestamp: env.Timestamp})
			continue
		}
		if env.IsControlPlane() && env.Type == pongType {
			continue
		}
		if listener != nil {
			listener.OnFrame(connID, env)
		}
	}
}

// runHeartbeat pings connID on the configured interval and disconnects it
// once it has been idle longer than the heartbeat timeout.
func (p *Pool) runHeartbeat(connID string) {
	p.mu.Lock()
	interval := p.config.HeartbeatPingInterval
	timeout := p.config.HeartbeatTimeout
	cs, ok := p.connections[connID]
	p.mu.Unlock()
	if !ok {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.stopHB:
			return
		case <-ticker.C:
			p.mu.Lock()
			cur, ok := p.connections[connID]
			if !ok {
				p.mu.Unlock()
				return
			}
			idle := time.Since(cur.conn.LastActivityAt)
			p.mu.Unlock()

			if idle > timeout {
				p.Disconnect(connID, "heartbeat_timeout")
				return
			}
			p.SendEnvelope(connID, wire.NewEnvelope(wire.MeshNamespace, pingType, nil))
		}
	}
}

// scheduleReconnect arms the backoff timer for entry's next dial attempt.
func (p *Pool) scheduleReconnect(entry *reconnectEntry) {
	p.mu.Lock()
	if _, ok := p.reconnects[entry.deviceID]; !ok {
		p.mu.Unlock()
		return
	}
	entry.attempt++
	delay := backoffDelay(entry.attempt, p.config.MaxReconnectDelay)
	entry.timer = time.AfterFunc(delay, func() { p.retryDial(entry) })
	p.mu.Unlock()
}

// retryDial makes one reconnect attempt for entry, rescheduling on failure
// and installing a fresh connection row on success.
func (p *Pool) retryDial(entry *reconnectEntry) {
	p.mu.Lock()
	if _, ok := p.reconnects[entry.deviceID]; !ok {
		p.mu.Unlock()
		return
	}
	dialTimeout := p.config.DialTimeout
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	err := p.overlay.Dial(ctx, overlay.DialData{
		DeviceID: entry.deviceID,
		Hostname: entry.hostname,
		DNSName:  entry.dnsName,
		Port:     entry.port,
	})
	if err != nil {
		p.scheduleReconnect(entry)
		return
	}

	connID := "dial:" + entry.deviceID
	now := time.Now()
	p.mu.Lock()
	entry.attempt = 0
	p.connections[connID] = &connState{
		conn: transport.Connection{
			ID:             connID,
			DeviceID:       entry.deviceID,
			Direction:      transport.DirectionOutgoing,
			Status:         transport.StatusConnected,
			ConnectedAt:    now,
			LastActivityAt: now,
		},
		stopHB: make(chan struct{}),
	}
	p.byDevice[entry.deviceID] = connID
	conn := p.connections[connID].conn
	listener := p.listener
	p.mu.Unlock()

	go p.runHeartbeat(connID)

	if listener != nil {
		listener.OnConnected(conn)
	}
}

var _ overlay.Listener = (*Pool)(nil)
