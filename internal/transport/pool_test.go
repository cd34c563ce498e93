package transport

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iwire "github.com/meshfleet/meshd/internal/wire"
	"github.com/meshfleet/meshd/pkg/overlay"
	"github.com/meshfleet/meshd/pkg/transport"
	"github.com/meshfleet/meshd/pkg/wire"
)

type fakeOverlayClient struct {
	mu       sync.Mutex
	dialFunc func(overlay.DialData) error
	sent     []string
	dialMsgs []string
}

func (f *fakeOverlayClient) Close() error { return nil }
func (f *fakeOverlayClient) Start(ctx context.Context, params overlay.StartData) error {
	return nil
}
func (f *fakeOverlayClient) Stop(ctx context.Context) error { return nil }
func (f *fakeOverlayClient) Send(ctx context.Context, connectionID, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}
func (f *fakeOverlayClient) GetPeers(ctx context.Context) error { return nil }
func (f *fakeOverlayClient) Dial(ctx context.Context, params overlay.DialData) error {
	if f.dialFunc != nil {
		return f.dialFunc(params)
	}
	return nil
}
func (f *fakeOverlayClient) DialClose(ctx context.Context, deviceID string) error { return nil }
func (f *fakeOverlayClient) DialMessage(ctx context.Context, deviceID, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialMsgs = append(f.dialMsgs, data)
	return nil
}

func (f *fakeOverlayClient) lastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeOverlayClient) lastDialMsg() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dialMsgs) == 0 {
		return ""
	}
	return f.dialMsgs[len(f.dialMsgs)-1]
}

type fakeTransportListener struct {
	mu            sync.Mutex
	connected     []transport.Connection
	disconnected  []string
	frames        []wire.Envelope
	overlayStatus []overlay.StatusData
}

func (f *fakeTransportListener) OnConnected(c transport.Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, c)
}
func (f *fakeTransportListener) OnDisconnected(connectionID, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, connectionID+":"+reason)
}
func (f *fakeTransportListener) OnFrame(connectionID string, env wire.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, env)
}
func (f *fakeTransportListener) OnOverlayStatus(d overlay.StatusData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overlayStatus = append(f.overlayStatus, d)
}
func (f *fakeTransportListener) OnOverlayPeers(overlay.PeersData)               {}
func (f *fakeTransportListener) OnOverlayAuthRequired(overlay.AuthRequiredData) {}
func (f *fakeTransportListener) OnOverlayError(overlay.ErrorData)               {}

func (f *fakeTransportListener) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeTransportListener) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.disconnected)
}

func newTestPool(t *testing.T, overlayClient *fakeOverlayClient, cfg *Config) *Pool {
	t.Helper()
	pool := NewPool(iwire.NewFrameCodec(), cfg)
	pool.SetOverlayClient(overlayClient)
	return pool
}

func TestConnect_SuccessRegistersConnection(t *testing.T) {
	fake := &fakeOverlayClient{}
	pool := newTestPool(t, fake, nil)

	conn, err := pool.Connect(context.Background(), "dev-1", "host-1", "host-1.ts.net", 443)
	require.NoError(t, err)
	assert.Equal(t, transport.StatusConnected, conn.Status)

	got, ok := pool.GetByDeviceID("dev-1")
	require.True(t, ok)
	assert.Equal(t, "dev-1", got.DeviceID)
}

func TestConnect_DialTimeoutCleansUpAndReturnsError(t *testing.T) {
	fake := &fakeOverlayClient{dialFunc: func(overlay.DialData) error { return overlay.ErrDialTimeout }}
	pool := newTestPool(t, fake, nil)

	_, err := pool.Connect(context.Background(), "dev-1", "host-1", "", 0)
	assert.ErrorIs(t, err, transport.ErrDialTimeout)

	_, ok := pool.GetByDeviceID("dev-1")
	assert.False(t, ok)
}

func TestConnect_IdempotentForAlreadyConnectedDevice(t *testing.T) {
	dialCount := 0
	fake := &fakeOverlayClient{dialFunc: func(overlay.DialData) error { dialCount++; return nil }}
	pool := newTestPool(t, fake, nil)

	_, err := pool.Connect(context.Background(), "dev-1", "host-1", "", 0)
	require.NoError(t, err)
	_, err = pool.Connect(context.Background(), "dev-1", "host-1", "", 0)
	require.NoError(t, err)

	assert.Equal(t, 1, dialCount)
}

func TestOnWsConnect_CreatesConnectionAndNotifiesListener(t *testing.T) {
	fake := &fakeOverlayClient{}
	pool := newTestPool(t, fake, nil)
	listener := &fakeTransportListener{}
	pool.SetListener(listener)

	pool.OnWsConnect(overlay.WsConnectData{ConnectionID: "conn-1", RemoteAddr: "100.64.0.2:1234"})

	conn, ok := pool.Get("conn-1")
	require.True(t, ok)
	assert.Equal(t, transport.DirectionIncoming, conn.Direction)
	require.Len(t, listener.connected, 1)
	assert.Equal(t, "conn-1", listener.connected[0].ID)
}

func TestDispatchIncoming_PingIsAnsweredNotForwarded(t *testing.T) {
	fake := &fakeOverlayClient{}
	pool := newTestPool(t, fake, nil)
	listener := &fakeTransportListener{}
	pool.SetListener(listener)
	pool.OnWsConnect(overlay.WsConnectData{ConnectionID: "conn-1"})

	ping := wire.NewEnvelope(wire.MeshNamespace, pingType, nil)
	frame, err := pool.codec.Encode(ping, wire.FormatBinary)
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(frame)

	pool.OnWsMessage(overlay.WsMessageEventData{ConnectionID: "conn-1", Data: encoded})

	assert.Equal(t, 0, listener.frameCount())
	sent := fake.lastSent()
	require.NotEmpty(t, sent)
	rawSent, err := base64.StdEncoding.DecodeString(sent)
	require.NoError(t, err)
	env, _, err := pool.codec.DecodeFrame(rawSent)
	require.NoError(t, err)
	assert.Equal(t, pongType, env.Type)
	assert.True(t, ping.Timestamp.Equal(env.Timestamp), "pong must echo the ping's own timestamp")
}

func TestDispatchIncoming_ForwardsApplicationFrame(t *testing.T) {
	fake := &fakeOverlayClient{}
	pool := newTestPool(t, fake, nil)
	listener := &fakeTransportListener{}
	pool.SetListener(listener)
	pool.OnWsConnect(overlay.WsConnectData{ConnectionID: "conn-1"})

	frame, err := pool.codec.Encode(wire.NewEnvelope("app", "chat", []byte("hello")), wire.FormatBinary)
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(frame)

	pool.OnWsMessage(overlay.WsMessageEventData{ConnectionID: "conn-1", Data: encoded})

	require.Equal(t, 1, listener.frameCount())
	assert.Equal(t, "chat", listener.frames[0].Type)
	assert.Equal(t, []byte("hello"), listener.frames[0].Payload)
}

func TestOnWsDisconnect_RemovesConnectionAndNotifiesListener(t *testing.T) {
	fake := &fakeOverlayClient{}
	pool := newTestPool(t, fake, nil)
	listener := &fakeTransportListener{}
	pool.SetListener(listener)
	pool.OnWsConnect(overlay.WsConnectData{ConnectionID: "conn-1"})

	pool.OnWsDisconnect(overlay.WsDisconnectData{ConnectionID: "conn-1", Reason: "peer_closed"})

	_, ok := pool.Get("conn-1")
	assert.False(t, ok)
	require.Equal(t, 1, listener.disconnectCount())
	assert.Equal(t, "conn-1:peer_closed", listener.disconnected[0])
}

func TestDisconnect_SchedulesReconnectForOutgoingConnection(t *testing.T) {
	var dialAttempts int
	var mu sync.Mutex
	fake := &fakeOverlayClient{dialFunc: func(overlay.DialData) error {
		mu.Lock()
		defer mu.Unlock()
		dialAttempts++
		return nil
	}}
	cfg := &Config{MaxReconnectDelay: 15 * time.Millisecond}
	pool := newTestPool(t, fake, cfg)
	listener := &fakeTransportListener{}
	pool.SetListener(listener)

	_, err := pool.Connect(context.Background(), "dev-1", "host-1", "", 0)
	require.NoError(t, err)

	pool.Disconnect("dial:dev-1", "peer_reset")

	require.Eventually(t, func() bool {
		_, ok := pool.GetByDeviceID("dev-1")
		return ok
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	attempts := dialAttempts
	mu.Unlock()
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestStop_ClearsReconnectLedgerAndPreventsFurtherDials(t *testing.T) {
	fake := &fakeOverlayClient{}
	cfg := &Config{MaxReconnectDelay: 15 * time.Millisecond}
	pool := newTestPool(t, fake, cfg)

	_, err := pool.Connect(context.Background(), "dev-1", "host-1", "", 0)
	require.NoError(t, err)

	require.NoError(t, pool.Stop(context.Background()))
	pool.Disconnect("dial:dev-1", "peer_reset")

	assert.Empty(t, pool.List())
}

func TestSendRaw_UnknownConnectionReturnsFalse(t *testing.T) {
	fake := &fakeOverlayClient{}
	pool := newTestPool(t, fake, nil)

	ok := pool.SendRaw("nope", []byte("x"))
	assert.False(t, ok)
}

func TestBindDeviceID_RejectsRebindToDifferentDevice(t *testing.T) {
	fake := &fakeOverlayClient{}
	pool := newTestPool(t, fake, nil)
	pool.OnWsConnect(overlay.WsConnectData{ConnectionID: "conn-1"})

	require.NoError(t, pool.BindDeviceID("conn-1", "dev-1"))
	err := pool.BindDeviceID("conn-1", "dev-2")
	assert.ErrorIs(t, err, transport.ErrAlreadyBound)
}
