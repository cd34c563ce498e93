package devicetable

import (
	"errors"
	"io"
)

// ErrInvalidAnnouncePayload is returned when a device:announce payload
// fails schema validation (missing device id).
var ErrInvalidAnnouncePayload = errors.New("devicetable: invalid announce payload")

// DiscoveredPeer is the subset of an overlay peer listing the table needs
// to run hostname-based discovery. Callers translate whatever peer-list
// shape the overlay client returns into this before calling DiscoverPeers.
type DiscoveredPeer struct {
	Hostname string
	DNSName  string
}

// AnnouncePayload is the payload of a device:announce control message.
type AnnouncePayload struct {
	Device Device `json:"device"`
}

// ListPayload is the payload of a device:list control message.
type ListPayload struct {
	Devices   []Device `json:"devices"`
	PrimaryID string   `json:"primaryId,omitempty"`
}

// Listener receives table change notifications. Implementations must not
// block; the table snapshots what it needs before calling out and holds no
// lock across the callback.
type Listener interface {
	OnDeviceDiscovered(Device)
	OnDeviceUpdated(Device)
	OnDeviceOffline(deviceID string)
	OnDevicesChanged(snapshot []Device)
	OnPrimaryChanged(primaryID string, hasPrimary bool)
	OnLocalDeviceChanged(Device)
}

// Table holds the local device and the map of known remote devices.
type Table interface {
	io.Closer

	// SetLocalDevice installs the local device identity. Called once
	// during node startup before any other table operation.
	SetLocalDevice(d Device)

	// LocalDevice returns a copy of the current local device.
	LocalDevice() Device

	SetLocalOnline(ip, dnsName string)
	SetLocalOffline()
	SetLocalRole(r Role)
	UpdateMetadata(metadata map[string]string)
	UpdateDeviceName(name string)
	SetLocalDNSName(dnsName string)

	// DiscoverPeers parses each peer's hostname against the configured
	// prefix, inserting or updating matching devices. The local hostname
	// and non-matching hostnames are ignored.
	DiscoverPeers(peers []DiscoveredPeer)

	// HandleDeviceAnnounce validates and applies a remote device:announce.
	HandleDeviceAnnounce(from string, payload AnnouncePayload) error

	// HandleDeviceList applies a primary's device:list snapshot.
	HandleDeviceList(from string, payload ListPayload)

	// MarkDeviceOffline transitions id to offline, clearing primaryId if it
	// was the primary.
	MarkDeviceOffline(id string)

	// GetDevice looks up a device (local or remote) by id.
	GetDevice(id string) (Device, bool)

	// RemoteDevices returns a snapshot of all known remote devices.
	RemoteDevices() []Device

	// PrimaryID returns the current primary id, if any.
	PrimaryID() (string, bool)

	// SetListener installs the sole listener for table events.
	SetListener(l Listener)
}
