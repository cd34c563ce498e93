// Package syncadapter implements syncstore.Adapter: per-store slice
// replication over a message bus.
package syncadapter

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/meshfleet/meshd/pkg/bus"
	"github.com/meshfleet/meshd/pkg/meshnode"
	"github.com/meshfleet/meshd/pkg/syncstore"
)

// Adapter subscribes to syncstore.Namespace on a bus.Bus and replicates
// every registered store's local slice to the mesh, applying inbound
// slices from peers.
type Adapter struct {
	mu sync.Mutex

	localID string
	bus     bus.Bus
	stores  map[string]syncstore.Store

	disposer bus.Disposer
	started  bool
	closed   bool
}

// New builds an Adapter for localID atop b. Register stores with
// RegisterStore before calling Start.
func New(localID string, b bus.Bus) *Adapter {
	return &Adapter{
		localID: localID,
		bus:     b,
		stores:  make(map[string]syncstore.Store),
	}
}

// RegisterStore adds storeID to the set of stores this adapter replicates.
// Call before Start.
func (a *Adapter) RegisterStore(storeID string, s syncstore.Store) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stores[storeID] = s
}

func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.closed || a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	stores := make(map[string]syncstore.Store, len(a.stores))
	for id, s := range a.stores {
		stores[id] = s
	}
	a.mu.Unlock()

	a.disposer = a.bus.Subscribe(syncstore.Namespace, a.handleMessage)

	for storeID, store := range stores {
		storeID := storeID
		store.SetLocalChangedListener(func(slice syncstore.Slice) {
			a.onLocalChanged(storeID, slice)
		})
	}

	for storeID := range stores {
		a.broadcastRequest(ctx, storeID, "")
	}
	for storeID, store := range stores {
		if slice, ok := store.GetLocalSlice(); ok {
			a.broadcastSlice(ctx, storeID, syncstore.TypeFull, slice)
		}
	}
	return nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.started = false
	disposer := a.disposer
	stores := make(map[string]syncstore.Store, len(a.stores))
	for id, s := range a.stores {
		stores[id] = s
	}
	a.mu.Unlock()

	if disposer != nil {
		disposer()
	}
	for _, store := range stores {
		store.SetLocalChangedListener(nil)
		store.ClearRemoteSlices()
	}
	return nil
}

func (a *Adapter) storeSnapshot() map[string]syncstore.Store {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]syncstore.Store, len(a.stores))
	for id, s := range a.stores {
		out[id] = s
	}
	return out
}

func (a *Adapter) handleMessage(msg meshnode.IncomingMessage) error {
	switch msg.Type {
	case syncstore.TypeFull, syncstore.TypeUpdate:
		return a.handleSlice(msg)
	case syncstore.TypeRequest:
		return a.handleRequest(msg)
	case syncstore.TypeClear:
		return a.handleClear(msg)
	}
	return nil
}

func (a *Adapter) handleSlice(msg meshnode.IncomingMessage) error {
	if msg.From == "" || msg.From == a.localID {
		return nil
	}
	var payload syncstore.SlicePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return err
	}
	store, ok := a.storeSnapshot()[payload.StoreID]
	if !ok {
		return nil
	}
	store.ApplyRemoteSlice(syncstore.Slice{
		DeviceID:  msg.From,
		Data:      payload.Data,
		Version:   payload.Version,
		UpdatedAt: payload.UpdatedAt,
	})
	return nil
}

func (a *Adapter) handleRequest(msg meshnode.IncomingMessage) error {
	if msg.From == "" || msg.From == a.localID {
		return nil
	}
	var payload syncstore.RequestPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return err
	}
	if payload.FromDeviceID != "" && payload.FromDeviceID != a.localID {
		return nil
	}
	store, ok := a.storeSnapshot()[payload.StoreID]
	if !ok {
		return nil
	}
	if slice, ok := store.GetLocalSlice(); ok {
		a.broadcastSlice(context.Background(), payload.StoreID, syncstore.TypeFull, slice)
	}
	return nil
}

func (a *Adapter) handleClear(msg meshnode.IncomingMessage) error {
	var payload syncstore.ClearPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return err
	}
	if payload.DeviceID == a.localID {
		return nil
	}
	store, ok := a.storeSnapshot()[payload.StoreID]
	if !ok {
		return nil
	}
	store.RemoveRemoteSlice(payload.DeviceID, payload.Reason)
	return nil
}

func (a *Adapter) onLocalChanged(storeID string, slice syncstore.Slice) {
	a.broadcastSlice(context.Background(), storeID, syncstore.TypeUpdate, slice)
}

func (a *Adapter) HandleDeviceDiscovered(deviceID string) {
	stores := a.storeSnapshot()
	for storeID, store := range stores {
		if slice, ok := store.GetLocalSlice(); ok {
			a.broadcastSlice(context.Background(), storeID, syncstore.TypeFull, slice)
		}
	}
	for storeID := range stores {
		a.broadcastRequest(context.Background(), storeID, deviceID)
	}
}

func (a *Adapter) HandleDeviceOffline(deviceID string) {
	stores := a.storeSnapshot()
	for storeID, store := range stores {
		store.RemoveRemoteSlice(deviceID, "offline")
		a.broadcastClear(context.Background(), storeID, deviceID, "offline")
	}
}

func (a *Adapter) broadcastSlice(ctx context.Context, storeID, typ string, slice syncstore.Slice) {
	raw, err := json.Marshal(syncstore.SlicePayload{
		StoreID:   storeID,
		Data:      slice.Data,
		Version:   slice.Version,
		UpdatedAt: slice.UpdatedAt,
	})
	if err != nil {
		return
	}
	a.bus.Broadcast(ctx, syncstore.Namespace, typ, raw)
}

func (a *Adapter) broadcastRequest(ctx context.Context, storeID, fromDeviceID string) {
	raw, err := json.Marshal(syncstore.RequestPayload{StoreID: storeID, FromDeviceID: fromDeviceID})
	if err != nil {
		return
	}
	a.bus.Broadcast(ctx, syncstore.Namespace, syncstore.TypeRequest, raw)
}

func (a *Adapter) broadcastClear(ctx context.Context, storeID, deviceID, reason string) {
	raw, err := json.Marshal(syncstore.ClearPayload{StoreID: storeID, DeviceID: deviceID, Reason: reason})
	if err != nil {
		return
	}
	a.bus.Broadcast(ctx, syncstore.Namespace, syncstore.TypeClear, raw)
}

var _ syncstore.Adapter = (*Adapter)(nil)
