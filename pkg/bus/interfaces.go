package bus

import (
	"context"

	"github.com/meshfleet/meshd/pkg/devicetable"
	"github.com/meshfleet/meshd/pkg/meshnode"
	"github.com/meshfleet/meshd/pkg/wire"
)

// Router is the subset of meshnode.Node the bus needs to deliver outgoing
// traffic. A narrow interface keeps the bus testable without a real node.
type Router interface {
	SendEnvelope(ctx context.Context, targetID string, env wire.Envelope) bool
	BroadcastEnvelope(ctx context.Context, env wire.Envelope)
}

// Handler processes one incoming application message for a namespace it
// subscribed to. A returned error is caught by the bus and surfaced via
// Listener.OnError; it never stops other handlers from running.
type Handler func(msg meshnode.IncomingMessage) error

// Disposer unsubscribes a single Subscribe call. Calling it more than once
// is a no-op.
type Disposer func()

// Listener receives bus-level lifecycle events. Implementations must not
// block.
type Listener interface {
	OnUnsubscribed(namespace string)
	OnError(err error, namespace string)
}

// Bus dispatches incoming application messages to namespace subscribers and
// forwards outgoing publish/broadcast calls to a Router.
type Bus interface {
	// SetRouter installs the sole outgoing-message router.
	SetRouter(r Router)
	// SetListener installs the sole listener for bus lifecycle events.
	SetListener(l Listener)

	// Subscribe registers h for namespace ns, returning a disposer. The
	// last disposer for a namespace removes the subscription and emits
	// unsubscribed.
	Subscribe(ns string, h Handler) Disposer

	// Publish wraps payload in an envelope of (ns, typ) and sends it to
	// targetID via the router. Returns false if delivery is not currently
	// possible.
	Publish(ctx context.Context, targetID, ns, typ string, payload []byte) bool

	// Broadcast wraps payload in an envelope of (ns, typ) and broadcasts it
	// via the router.
	Broadcast(ctx context.Context, ns, typ string, payload []byte)

	// OnIncomingMessage dispatches msg to every handler subscribed to its
	// namespace, synchronously and sequentially.
	OnIncomingMessage(msg meshnode.IncomingMessage)

	// OnRoleChanged and OnDevicesChanged complete meshnode.Listener's
	// shape, so a Bus can be wired directly as a Node's application
	// listener without an adapter. The bus itself has no use for either.
	OnRoleChanged(role devicetable.Role)
	OnDevicesChanged(snapshot []devicetable.Device)
}
