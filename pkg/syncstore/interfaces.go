package syncstore

import (
	"context"
	"io"
	"time"
)

// Slice is one device's replicated data for a store: an opaque blob plus a
// per-device monotone version. For a given (storeId, deviceId), a Slice
// with version <= the one already held is dropped.
type Slice struct {
	DeviceID  string
	Data      []byte
	Version   int64
	UpdatedAt time.Time
}

// Store is the application-provided data source the adapter replicates.
// Implementations own their data; the adapter holds no copies of its own.
type Store interface {
	// GetLocalSlice returns the local slice, or ok=false if nothing has
	// been produced locally yet.
	GetLocalSlice() (Slice, bool)

	// ApplyRemoteSlice is called with every inbound full or update slice
	// from a peer; the adapter does no version filtering. The store itself
	// applies a slice only if its version is strictly greater than the
	// one currently held for that device.
	ApplyRemoteSlice(s Slice)

	// RemoveRemoteSlice evicts a remote device's slice.
	RemoveRemoteSlice(deviceID, reason string)

	// ClearRemoteSlices evicts every remote slice, used on adapter close.
	ClearRemoteSlices()

	// SetLocalChangedListener installs the callback fired whenever the
	// local slice changes. Passing nil removes it.
	SetLocalChangedListener(fn func(Slice))
}

// Adapter replicates every registered Store's slices across the mesh via a
// message bus subscribed to the "sync" namespace.
type Adapter interface {
	io.Closer

	// Start subscribes to the sync namespace, wires each store's
	// localChanged listener, requests full snapshots for every store, and
	// broadcasts full snapshots for stores that already have local data.
	// Calling Start after Close is a no-op.
	Start(ctx context.Context) error

	// HandleDeviceDiscovered broadcasts full snapshots for every store
	// with local data, then a targeted request scoped to deviceID for
	// every store.
	HandleDeviceDiscovered(deviceID string)

	// HandleDeviceOffline evicts deviceID's slice from every store and
	// broadcasts a clear for it.
	HandleDeviceOffline(deviceID string)
}
