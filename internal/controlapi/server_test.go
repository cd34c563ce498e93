package controlapi

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/meshfleet/meshd/pkg/devicetable"
	"github.com/meshfleet/meshd/pkg/meshnode"
	"github.com/meshfleet/meshd/pkg/wire"
)

type fakeNode struct {
	localID   string
	running   bool
	isPrimary bool
}

func (n *fakeNode) Close() error                     { return nil }
func (n *fakeNode) Start(ctx context.Context) error  { return nil }
func (n *fakeNode) Stop(ctx context.Context) error   { return nil }
func (n *fakeNode) SetListener(l meshnode.Listener)  {}
func (n *fakeNode) BroadcastEnvelope(ctx context.Context, env wire.Envelope) {}
func (n *fakeNode) IsRunning() bool                  { return n.running }
func (n *fakeNode) IsPrimary() bool                  { return n.isPrimary }
func (n *fakeNode) LocalDeviceID() string            { return n.localID }

func (n *fakeNode) SendEnvelope(ctx context.Context, targetID string, env wire.Envelope) bool {
	return false
}
func (n *fakeNode) Health() meshnode.HealthStatus {
	role := devicetable.RoleSecondary
	if n.isPrimary {
		role = devicetable.RolePrimary
	}
	return meshnode.HealthStatus{Running: n.running, Role: role}
}

var _ meshnode.Node = (*fakeNode)(nil)

func TestServer_SampleHealth_ReportsOverallAndPrimary(t *testing.T) {
	node := &fakeNode{localID: "dev-a", running: true, isPrimary: true}
	s, err := NewServer(node, Config{Addr: ":0", SigningKey: []byte("test-secret")})
	require.NoError(t, err)

	s.sampleHealth()

	overall, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceOverall})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, overall.Status)

	primary, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServicePrimary})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, primary.Status)
}

func TestServer_SampleHealth_SecondaryNotServingPrimary(t *testing.T) {
	node := &fakeNode{localID: "dev-b", running: true, isPrimary: false}
	s, err := NewServer(node, Config{Addr: ":0", SigningKey: []byte("test-secret")})
	require.NoError(t, err)

	s.sampleHealth()

	primary, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServicePrimary})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, primary.Status)
}

func TestServer_SampleHealth_NotRunningReportsNotServing(t *testing.T) {
	node := &fakeNode{localID: "dev-a", running: false}
	s, err := NewServer(node, Config{Addr: ":0", SigningKey: []byte("test-secret")})
	require.NoError(t, err)

	s.sampleHealth()

	overall, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceOverall})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, overall.Status)
}

func TestServer_IssueToken_WritesTokenFile(t *testing.T) {
	dir := t.TempDir()
	node := &fakeNode{localID: "dev-a", running: true}
	s, err := NewServer(node, Config{Addr: ":0", StateDir: dir, SigningKey: []byte("test-secret")})
	require.NoError(t, err)

	token, err := s.IssueToken()
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	written, err := os.ReadFile(filepath.Join(dir, TokenFileName))
	require.NoError(t, err)
	assert.Equal(t, token, string(written))

	claims, err := s.auth.ValidateToken(string(written))
	require.NoError(t, err)
	assert.Equal(t, "dev-a", claims.DeviceID)
}

func TestNewServer_PersistsSigningKeyAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	node := &fakeNode{localID: "dev-a", running: true}

	first, err := NewServer(node, Config{Addr: ":0", StateDir: dir})
	require.NoError(t, err)
	token, err := first.IssueToken()
	require.NoError(t, err)

	keyFile := filepath.Join(dir, SigningKeyFileName)
	_, err = os.Stat(keyFile)
	require.NoError(t, err, "NewServer must persist a generated signing key under StateDir")

	second, err := NewServer(node, Config{Addr: ":0", StateDir: dir})
	require.NoError(t, err)

	claims, err := second.auth.ValidateToken(token)
	require.NoError(t, err, "a fresh Server built against the same StateDir must reuse the persisted key")
	assert.Equal(t, "dev-a", claims.DeviceID)
}

func TestNewServer_NoStateDir_GeneratesEphemeralKey(t *testing.T) {
	node := &fakeNode{localID: "dev-a", running: true}

	first, err := NewServer(node, Config{Addr: ":0"})
	require.NoError(t, err)
	token, err := first.IssueToken()
	require.NoError(t, err)

	second, err := NewServer(node, Config{Addr: ":0"})
	require.NoError(t, err)

	_, err = second.auth.ValidateToken(token)
	assert.Error(t, err, "without a StateDir each Server generates its own key")
}
