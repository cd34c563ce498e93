// Package transport implements the transport.Transport pool atop an
// overlay.Client.
package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/meshfleet/meshd/pkg/overlay"
	"github.com/meshfleet/meshd/pkg/transport"
	"github.com/meshfleet/meshd/pkg/wire"
)

const (
	pingType = "ping"
	pongType = "pong"
)

type connState struct {
	conn   transport.Connection
	buffer []byte
	stopHB chan struct{}
}

// Pool implements transport.Transport. It is the sole overlay.Listener for
// its overlay client: every stream above the overlay passes through here.
type Pool struct {
	mu       sync.Mutex
	config   *Config
	codec    wire.Codec
	overlay  overlay.Client
	listener transport.Listener

	running     bool
	connections map[string]*connState // by connection id
	byDevice    map[string]string     // deviceID -> connection id
	reconnects  map[string]*reconnectEntry
}

// NewPool creates a Pool. Call SetOverlayClient before Start.
func NewPool(codec wire.Codec, config *Config) *Pool {
	cfg := &Config{}
	if config != nil {
		cfg = &Config{
			HeartbeatPingInterval: config.HeartbeatPingInterval,
			HeartbeatTimeout:      config.HeartbeatTimeout,
			DialTimeout:           config.DialTimeout,
			MaxReconnectDelay:     config.MaxReconnectDelay,
		}
	}
	cfg.SetDefaults()

	return &Pool{
		config:      cfg,
		codec:       codec,
		connections: make(map[string]*connState),
		byDevice:    make(map[string]string),
		reconnects:  make(map[string]*reconnectEntry),
	}
}

// SetOverlayClient wires the underlying overlay.Client. Must be called
// before Start.
func (p *Pool) SetOverlayClient(c overlay.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overlay = c
}

// SetListener implements transport.Transport.
func (p *Pool) SetListener(l transport.Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = l
}

// Start implements transport.Transport.
func (p *Pool) Start(ctx context.Context, startParams overlay.StartData) error {
	p.mu.Lock()
	if p.overlay == nil {
		p.mu.Unlock()
		return fmt.Errorf("transport: overlay client not configured")
	}
	p.running = true
	p.mu.Unlock()

	return p.overlay.Start(ctx, startParams)
}

// Stop implements transport.Transport.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.running = false
	for _, entry := range p.reconnects {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	p.reconnects = make(map[string]*reconnectEntry)
	for _, cs := range p.connections {
		close(cs.stopHB)
	}
	p.connections = make(map[string]*connState)
	p.byDevice = make(map[string]string)
	p.mu.Unlock()

	return p.overlay.Stop(ctx)
}

// Close implements io.Closer.
func (p *Pool) Close() error {
	return p.Stop(context.Background())
}

// Connect implements transport.Transport.
func (p *Pool) Connect(ctx context.Context, deviceID, hostname, dnsName string, port int) (transport.Connection, error) {
	if port == 0 {
		port = 443
	}

	p.mu.Lock()
	if id, ok := p.byDevice[deviceID]; ok {
		if cs, ok := p.connections[id]; ok && cs.conn.Status == transport.StatusConnected {
			existing := cs.conn
			p.mu.Unlock()
			return existing, nil
		}
	}
	connID := "dial:" + deviceID
	p.connections[connID] = &connState{
		conn: transport.Connection{
			ID:        connID,
			DeviceID:  deviceID,
			Direction: transport.DirectionOutgoing,
			Status:    transport.StatusConnecting,
		},
	}
	p.reconnects[deviceID] = &reconnectEntry{deviceID: deviceID, hostname: hostname, dnsName: dnsName, port: port}
	p.mu.Unlock()

	err := p.overlay.Dial(ctx, overlay.DialData{DeviceID: deviceID, Hostname: hostname, DNSName: dnsName, Port: port})
	if err != nil {
		p.mu.Lock()
		delete(p.connections, connID)
		p.mu.Unlock()

		if err == overlay.ErrDialTimeout {
			return transport.Connection{}, transport.ErrDialTimeout
		}
		return transport.Connection{}, fmt.Errorf("%w: %v", transport.ErrDialError, err)
	}

	p.mu.Lock()
	cs, ok := p.connections[connID]
	if !ok {
		p.mu.Unlock()
		return transport.Connection{}, transport.ErrDialError
	}
	now := time.Now()
	cs.conn.Status = transport.StatusConnected
	cs.conn.ConnectedAt = now
	cs.conn.LastActivityAt = now
	cs.stopHB = make(chan struct{})
	p.byDevice[deviceID] = connID
	result := cs.conn
	p.mu.Unlock()

	go p.runHeartbeat(connID)

	return result, nil
}

// BindDeviceID implements transport.Transport.
func (p *Pool) BindDeviceID(connectionID, deviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cs, ok := p.connections[connectionID]
	if !ok {
		return transport.ErrUnknownConnection
	}
	if cs.conn.HasDeviceID() {
		if cs.conn.DeviceID == deviceID {
			return nil
		}
		return transport.ErrAlreadyBound
	}
	cs.conn.DeviceID = deviceID
	p.byDevice[deviceID] = connectionID
	return nil
}

// SendRaw implements transport.Transport.
func (p *Pool) SendRaw(connectionID string, frame []byte) bool {
	p.mu.Lock()
	cs, ok := p.connections[connectionID]
	if !ok || cs.conn.Status != transport.StatusConnected {
		p.mu.Unlock()
		return false
	}
	direction := cs.conn.Direction
	deviceID := cs.conn.DeviceID
	p.mu.Unlock()

	encoded := base64.StdEncoding.EncodeToString(frame)

	var err error
	if direction == transport.DirectionOutgoing {
		err = p.overlay.DialMessage(context.Background(), deviceID, encoded)
	} else {
		err = p.overlay.Send(context.Background(), connectionID, encoded)
	}
	if err != nil {
		p.Disconnect(connectionID, "send buffer full")
		return false
	}
	return true
}

// SendEnvelope implements transport.Transport.
func (p *Pool) SendEnvelope(connectionID string, env wire.Envelope) bool {
	frame, err := p.codec.Encode(env, wire.FormatBinary)
	if err != nil {
		return false
	}
	return p.SendRaw(connectionID, frame)
}

// Disconnect implements transport.Transport.
func (p *Pool) Disconnect(connectionID, reason string) {
	p.mu.Lock()
	cs, ok := p.connections[connectionID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.connections, connectionID)
	if cs.conn.DeviceID != "" && p.byDevice[cs.conn.DeviceID] == connectionID {
		delete(p.byDevice, cs.conn.DeviceID)
	}
	if cs.stopHB != nil {
		close(cs.stopHB)
	}

	shouldReconnect := reason != "service_stopped" &&
		cs.conn.Direction == transport.DirectionOutgoing &&
		cs.conn.DeviceID != ""
	var entry *reconnectEntry
	if shouldReconnect {
		entry = p.reconnects[cs.conn.DeviceID]
	}
	listener := p.listener
	p.mu.Unlock()

	if listener != nil {
		listener.OnDisconnected(connectionID, reason)
	}

	if entry != nil {
		p.scheduleReconnect(entry)
	}
}

// Get implements transport.Transport.
func (p *Pool) Get(connectionID string) (transport.Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cs, ok := p.connections[connectionID]
	if !ok {
		return transport.Connection{}, false
	}
	return cs.conn, true
}

// GetByDeviceID implements transport.Transport.
func (p *Pool) GetByDeviceID(deviceID string) (transport.Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byDevice[deviceID]
	if !ok {
		return transport.Connection{}, false
	}
	cs, ok := p.connections[id]
	if !ok {
		return transport.Connection{}, false
	}
	return cs.conn, true
}

// List implements transport.Transport.
func (p *Pool) List() []transport.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]transport.Connection, 0, len(p.connections))
	for _, cs := range p.connections {
		out = append(out, cs.conn)
	}
	return out
}

// RequestPeers implements transport.Transport.
func (p *Pool) RequestPeers(ctx context.Context) error {
	return p.overlay.GetPeers(ctx)
}

var _ transport.Transport = (*Pool)(nil)
