// Package devicetable implements devicetable.Table: the local device
// identity plus a map of remote devices discovered by hostname convention,
// remote announce, or a primary's device:list snapshot.
package devicetable

import (
	"regexp"
	"sync"
	"time"

	"github.com/meshfleet/meshd/pkg/devicetable"
)

// Table implements devicetable.Table.
type Table struct {
	mu sync.Mutex

	config     Config
	hostnameRe *regexp.Regexp

	local      devicetable.Device
	remotes    map[string]devicetable.Device
	primaryID  string
	hasPrimary bool

	listener      devicetable.Listener
	closed        bool
	debounceTimer *time.Timer
}

// New builds a Table from config, which must already be validated.
func New(config Config) *Table {
	cfg := config.SetDefaults()
	return &Table{
		config:     cfg,
		hostnameRe: regexp.MustCompile("^" + regexp.QuoteMeta(cfg.Prefix) + `-([^-]+)-(.+)$`),
		remotes:    make(map[string]devicetable.Device),
	}
}

func (t *Table) SetListener(l devicetable.Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listener = l
}

func (t *Table) SetLocalDevice(d devicetable.Device) {
	t.mu.Lock()
	t.local = d.Clone()
	local := t.local.Clone()
	listener := t.listener
	t.mu.Unlock()

	if listener != nil {
		listener.OnLocalDeviceChanged(local)
	}
}

func (t *Table) LocalDevice() devicetable.Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local.Clone()
}

func (t *Table) SetLocalOnline(ip, dnsName string) {
	t.mutateLocal(func(d *devicetable.Device) {
		d.Status = devicetable.StatusOnline
		d.LastSeen = time.Now()
		if ip != "" {
			d.IP = ip
		}
		if dnsName != "" {
			d.DNSName = dnsName
		}
	})
}

func (t *Table) SetLocalOffline() {
	t.mutateLocal(func(d *devicetable.Device) {
		d.Status = devicetable.StatusOffline
	})
}

func (t *Table) SetLocalRole(r devicetable.Role) {
	t.mutateLocal(func(d *devicetable.Device) {
		d.Role = r
	})
}

func (t *Table) UpdateMetadata(metadata map[string]string) {
	t.mutateLocal(func(d *devicetable.Device) {
		if d.Metadata == nil {
			d.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			d.Metadata[k] = v
		}
	})
}

func (t *Table) UpdateDeviceName(name string) {
	t.mutateLocal(func(d *devicetable.Device) {
		d.Name = name
	})
}

func (t *Table) SetLocalDNSName(dnsName string) {
	t.mutateLocal(func(d *devicetable.Device) {
		d.DNSName = dnsName
	})
}

// mutateLocal applies fn to the local device under lock and notifies
// OnLocalDeviceChanged with the result.
func (t *Table) mutateLocal(fn func(d *devicetable.Device)) {
	t.mu.Lock()
	fn(&t.local)
	local := t.local.Clone()
	listener := t.listener
	t.mu.Unlock()

	if listener != nil {
		listener.OnLocalDeviceChanged(local)
	}
}

func (t *Table) DiscoverPeers(peers []devicetable.DiscoveredPeer) {
	t.mu.Lock()
	localHostname := t.local.Hostname
	var discovered, updated []devicetable.Device
	changed := false

	for _, peer := range peers {
		if peer.Hostname == "" || peer.Hostname == localHostname {
			continue
		}
		m := t.hostnameRe.FindStringSubmatch(peer.Hostname)
		if m == nil {
			continue
		}
		typ, id := m[1], m[2]

		existing, ok := t.remotes[id]
		dnsName := peer.DNSName
		if dnsName == "" && ok {
			dnsName = existing.DNSName
		}

		next := existing
		next.ID = id
		next.Type = typ
		next.Hostname = peer.Hostname
		next.DNSName = dnsName
		next.LastSeen = time.Now()
		if !ok {
			next.Status = devicetable.StatusConnecting
		}
		t.remotes[id] = next
		changed = true

		if ok {
			updated = append(updated, next.Clone())
		} else {
			discovered = append(discovered, next.Clone())
		}
	}
	listener := t.listener
	t.mu.Unlock()

	if listener == nil {
		return
	}
	for _, d := range discovered {
		listener.OnDeviceDiscovered(d)
	}
	for _, d := range updated {
		listener.OnDeviceUpdated(d)
	}
	if changed {
		t.scheduleDevicesChanged()
	}
}

func (t *Table) HandleDeviceAnnounce(from string, payload devicetable.AnnouncePayload) error {
	if payload.Device.ID == "" {
		return devicetable.ErrInvalidAnnouncePayload
	}

	t.mu.Lock()
	existing, existed := t.remotes[payload.Device.ID]
	next := payload.Device.Clone()
	if next.DNSName == "" && existed {
		next.DNSName = existing.DNSName
	}
	next.LastSeen = time.Now()
	t.remotes[next.ID] = next
	listener := t.listener
	t.mu.Unlock()

	if listener != nil {
		if existed {
			listener.OnDeviceUpdated(next.Clone())
		} else {
			listener.OnDeviceDiscovered(next.Clone())
		}
	}
	t.scheduleDevicesChanged()
	return nil
}

func (t *Table) HandleDeviceList(from string, payload devicetable.ListPayload) {
	t.mu.Lock()

	for _, dev := range payload.Devices {
		if dev.ID == t.local.ID {
			continue
		}
		existing, existed := t.remotes[dev.ID]
		next := dev.Clone()
		if next.DNSName == "" && existed {
			next.DNSName = existing.DNSName
		}
		next.LastSeen = time.Now()
		t.remotes[next.ID] = next
	}

	oldPrimary, hadPrimary := t.primaryID, t.hasPrimary
	t.primaryID = payload.PrimaryID
	t.hasPrimary = payload.PrimaryID != ""

	for id, dev := range t.remotes {
		if t.hasPrimary && id == t.primaryID {
			dev.Role = devicetable.RolePrimary
		} else {
			dev.Role = devicetable.RoleSecondary
		}
		t.remotes[id] = dev
	}

	localChanged := false
	if t.hasPrimary && t.local.ID == t.primaryID {
		if t.local.Role != devicetable.RolePrimary {
			localChanged = true
		}
		t.local.Role = devicetable.RolePrimary
	} else if t.local.ID != "" {
		if t.local.Role != devicetable.RoleSecondary {
			localChanged = true
		}
		t.local.Role = devicetable.RoleSecondary
	}

	primaryChanged := hadPrimary != t.hasPrimary || oldPrimary != t.primaryID
	local := t.local.Clone()
	newPrimaryID := t.primaryID
	hasPrimary := t.hasPrimary
	listener := t.listener
	t.mu.Unlock()

	if listener == nil {
		return
	}
	t.scheduleDevicesChanged()
	if primaryChanged {
		listener.OnPrimaryChanged(newPrimaryID, hasPrimary)
	}
	if localChanged {
		listener.OnLocalDeviceChanged(local)
	}
}

func (t *Table) MarkDeviceOffline(id string) {
	t.mu.Lock()
	dev, ok := t.remotes[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	dev.Status = devicetable.StatusOffline
	t.remotes[id] = dev

	wasPrimary := t.hasPrimary && t.primaryID == id
	if wasPrimary {
		t.primaryID = ""
		t.hasPrimary = false
	}
	listener := t.listener
	t.mu.Unlock()

	if listener != nil {
		listener.OnDeviceOffline(id)
	}
	t.scheduleDevicesChanged()
	if wasPrimary && listener != nil {
		listener.OnPrimaryChanged("", false)
	}
}

func (t *Table) GetDevice(id string) (devicetable.Device, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == t.local.ID && id != "" {
		return t.local.Clone(), true
	}
	dev, ok := t.remotes[id]
	if !ok {
		return devicetable.Device{}, false
	}
	return dev.Clone(), true
}

func (t *Table) RemoteDevices() []devicetable.Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]devicetable.Device, 0, len(t.remotes))
	for _, d := range t.remotes {
		out = append(out, d.Clone())
	}
	return out
}

func (t *Table) PrimaryID() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.primaryID, t.hasPrimary
}

func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.debounceTimer != nil {
		t.debounceTimer.Stop()
	}
	return nil
}

// scheduleDevicesChanged coalesces a burst of mutations into a single
// OnDevicesChanged call after the configured debounce window.
func (t *Table) scheduleDevicesChanged() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if t.debounceTimer != nil {
		t.debounceTimer.Reset(t.config.DevicesChangedDebounce)
		t.mu.Unlock()
		return
	}
	t.debounceTimer = time.AfterFunc(t.config.DevicesChangedDebounce, t.fireDevicesChanged)
	t.mu.Unlock()
}

func (t *Table) fireDevicesChanged() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.debounceTimer = nil
	snapshot := make([]devicetable.Device, 0, len(t.remotes)+1)
	snapshot = append(snapshot, t.local.Clone())
	for _, d := range t.remotes {
		snapshot = append(snapshot, d.Clone())
	}
	listener := t.listener
	t.mu.Unlock()

	if listener != nil {
		listener.OnDevicesChanged(snapshot)
	}
}

var _ devicetable.Table = (*Table)(nil)
