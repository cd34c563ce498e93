// Package bus implements bus.Bus: namespace-keyed publish/subscribe atop a
// mesh node's routing.
package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/meshfleet/meshd/pkg/bus"
	"github.com/meshfleet/meshd/pkg/devicetable"
	"github.com/meshfleet/meshd/pkg/meshnode"
	"github.com/meshfleet/meshd/pkg/wire"
)

// Bus keeps namespace to handler-set subscriptions and forwards outgoing
// publish/broadcast calls to a Router.
type Bus struct {
	mu sync.Mutex

	router   bus.Router
	listener bus.Listener

	handlers map[string]map[int]bus.Handler
	nextID   int
}

// New returns an empty Bus with no router or listener installed.
func New() *Bus {
	return &Bus{handlers: make(map[string]map[int]bus.Handler)}
}

func (b *Bus) SetRouter(r bus.Router) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.router = r
}

func (b *Bus) SetListener(l bus.Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = l
}

func (b *Bus) Subscribe(ns string, h bus.Handler) bus.Disposer {
	b.mu.Lock()
	set, ok := b.handlers[ns]
	if !ok {
		set = make(map[int]bus.Handler)
		b.handlers[ns] = set
	}
	id := b.nextID
	b.nextID++
	set[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			set, ok := b.handlers[ns]
			if !ok {
				b.mu.Unlock()
				return
			}
			delete(set, id)
			empty := len(set) == 0
			if empty {
				delete(b.handlers, ns)
			}
			listener := b.listener
			b.mu.Unlock()

			if empty && listener != nil {
				listener.OnUnsubscribed(ns)
			}
		})
	}
}

func (b *Bus) Publish(ctx context.Context, targetID, ns, typ string, payload []byte) bool {
	b.mu.Lock()
	router := b.router
	b.mu.Unlock()
	if router == nil {
		return false
	}
	env := wire.NewEnvelope(ns, typ, payload)
	return router.SendEnvelope(ctx, targetID, env)
}

func (b *Bus) Broadcast(ctx context.Context, ns, typ string, payload []byte) {
	b.mu.Lock()
	router := b.router
	b.mu.Unlock()
	if router == nil {
		return
	}
	env := wire.NewEnvelope(ns, typ, payload)
	router.BroadcastEnvelope(ctx, env)
}

// OnIncomingMessage dispatches msg to every handler subscribed to
// msg.Namespace, synchronously and in registration order. A handler that
// panics or returns an error does not stop the others.
func (b *Bus) OnIncomingMessage(msg meshnode.IncomingMessage) {
	b.mu.Lock()
	set, ok := b.handlers[msg.Namespace]
	handlers := make([]bus.Handler, 0, len(set))
	if ok {
		ids := make([]int, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			handlers = append(handlers, set[id])
		}
	}
	listener := b.listener
	b.mu.Unlock()

	for _, h := range handlers {
		if err := b.invoke(h, msg); err != nil && listener != nil {
			listener.OnError(err, msg.Namespace)
		}
	}
}

func (b *Bus) invoke(h bus.Handler, msg meshnode.IncomingMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus: handler panicked: %v", r)
		}
	}()
	return h(msg)
}

func (b *Bus) OnRoleChanged(role devicetable.Role)            {}
func (b *Bus) OnDevicesChanged(snapshot []devicetable.Device) {}

var _ bus.Bus = (*Bus)(nil)
