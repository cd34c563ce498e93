package devicetable

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshfleet/meshd/pkg/devicetable"
)

type recordingListener struct {
	mu             sync.Mutex
	discovered     []devicetable.Device
	updated        []devicetable.Device
	offline        []string
	snapshots      [][]devicetable.Device
	primaryChanges []string
	localChanges   []devicetable.Device
}

func (r *recordingListener) OnDeviceDiscovered(d devicetable.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discovered = append(r.discovered, d)
}
func (r *recordingListener) OnDeviceUpdated(d devicetable.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, d)
}
func (r *recordingListener) OnDeviceOffline(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = append(r.offline, id)
}
func (r *recordingListener) OnDevicesChanged(snapshot []devicetable.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, snapshot)
}
func (r *recordingListener) OnPrimaryChanged(primaryID string, hasPrimary bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !hasPrimary {
		r.primaryChanges = append(r.primaryChanges, "")
		return
	}
	r.primaryChanges = append(r.primaryChanges, primaryID)
}
func (r *recordingListener) OnLocalDeviceChanged(d devicetable.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localChanges = append(r.localChanges, d)
}

func (r *recordingListener) snapshotCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func newTestTable(t *testing.T) (*Table, *recordingListener) {
	t.Helper()
	table := New(Config{Prefix: "myapp", DevicesChangedDebounce: 5 * time.Millisecond})
	listener := &recordingListener{}
	table.SetListener(listener)
	table.SetLocalDevice(devicetable.Device{ID: "local-1", Hostname: "myapp-desktop-local-1"})
	return table, listener
}

func TestDiscoverPeers_MatchingHostnameInserted(t *testing.T) {
	table, listener := newTestTable(t)

	table.DiscoverPeers([]devicetable.DiscoveredPeer{
		{Hostname: "myapp-desktop-abc-123-def", DNSName: "peer.ts.net"},
	})

	dev, ok := table.GetDevice("abc-123-def")
	require.True(t, ok)
	assert.Equal(t, "desktop", dev.Type)
	assert.Equal(t, "peer.ts.net", dev.DNSName)
	require.Len(t, listener.discovered, 1)
}

func TestDiscoverPeers_NonMatchingHostnameIgnored(t *testing.T) {
	table, listener := newTestTable(t)

	table.DiscoverPeers([]devicetable.DiscoveredPeer{
		{Hostname: "otherapp-desktop-x"},
		{Hostname: "myapp-desktop"},
		{Hostname: "myapp-desktop-local-1"},
	})

	assert.Empty(t, table.RemoteDevices())
	assert.Empty(t, listener.discovered)
}

func TestDiscoverPeers_PreservesDNSNameWhenNewEntryOmitsIt(t *testing.T) {
	table, _ := newTestTable(t)

	table.DiscoverPeers([]devicetable.DiscoveredPeer{{Hostname: "myapp-desktop-abc", DNSName: "abc.ts.net"}})
	table.DiscoverPeers([]devicetable.DiscoveredPeer{{Hostname: "myapp-desktop-abc", DNSName: ""}})

	dev, ok := table.GetDevice("abc")
	require.True(t, ok)
	assert.Equal(t, "abc.ts.net", dev.DNSName)
}

func TestHandleDeviceAnnounce_RejectsEmptyID(t *testing.T) {
	table, _ := newTestTable(t)

	err := table.HandleDeviceAnnounce("peer-1", devicetable.AnnouncePayload{})
	assert.ErrorIs(t, err, devicetable.ErrInvalidAnnouncePayload)
}

func TestHandleDeviceAnnounce_PreservesKnownDNSName(t *testing.T) {
	table, _ := newTestTable(t)

	require.NoError(t, table.HandleDeviceAnnounce("dev-2", devicetable.AnnouncePayload{
		Device: devicetable.Device{ID: "dev-2", DNSName: "dev2.ts.net"},
	}))
	require.NoError(t, table.HandleDeviceAnnounce("dev-2", devicetable.AnnouncePayload{
		Device: devicetable.Device{ID: "dev-2", Name: "renamed"},
	}))

	dev, ok := table.GetDevice("dev-2")
	require.True(t, ok)
	assert.Equal(t, "dev2.ts.net", dev.DNSName)
	assert.Equal(t, "renamed", dev.Name)
}

func TestHandleDeviceList_AssignsRolesAndFiresPrimaryChanged(t *testing.T) {
	table, listener := newTestTable(t)

	table.HandleDeviceList("dev-2", devicetable.ListPayload{
		Devices:   []devicetable.Device{{ID: "local-1"}, {ID: "dev-2"}},
		PrimaryID: "dev-2",
	})

	dev, ok := table.GetDevice("dev-2")
	require.True(t, ok)
	assert.Equal(t, devicetable.RolePrimary, dev.Role)

	local := table.LocalDevice()
	assert.Equal(t, devicetable.RoleSecondary, local.Role)

	primaryID, hasPrimary := table.PrimaryID()
	assert.True(t, hasPrimary)
	assert.Equal(t, "dev-2", primaryID)

	require.Len(t, listener.primaryChanges, 1)
	assert.Equal(t, "dev-2", listener.primaryChanges[0])
}

func TestMarkDeviceOffline_ClearsPrimaryWhenPrimaryGoesOffline(t *testing.T) {
	table, listener := newTestTable(t)
	table.HandleDeviceList("dev-2", devicetable.ListPayload{
		Devices:   []devicetable.Device{{ID: "dev-2"}},
		PrimaryID: "dev-2",
	})

	table.MarkDeviceOffline("dev-2")

	_, hasPrimary := table.PrimaryID()
	assert.False(t, hasPrimary)
	dev, ok := table.GetDevice("dev-2")
	require.True(t, ok)
	assert.Equal(t, devicetable.StatusOffline, dev.Status)

	require.Len(t, listener.offline, 1)
	assert.Equal(t, "dev-2", listener.offline[0])
	require.Len(t, listener.primaryChanges, 2)
	assert.Equal(t, "", listener.primaryChanges[1])
}

func TestDevicesChanged_DebouncesBurstOfMutations(t *testing.T) {
	table, listener := newTestTable(t)

	for i := 0; i < 5; i++ {
		table.DiscoverPeers([]devicetable.DiscoveredPeer{{Hostname: "myapp-desktop-burst"}})
	}

	require.Eventually(t, func() bool {
		return listener.snapshotCount() >= 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, listener.snapshotCount())
}

func TestClose_StopsDebounceTimerIdempotently(t *testing.T) {
	table, _ := newTestTable(t)
	table.DiscoverPeers([]devicetable.DiscoveredPeer{{Hostname: "myapp-desktop-x"}})

	require.NoError(t, table.Close())
	require.NoError(t, table.Close())
}
