package bus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshfleet/meshd/pkg/meshnode"
	"github.com/meshfleet/meshd/pkg/wire"
)

type sentEnvelope struct {
	target string
	env    wire.Envelope
}

type fakeRouter struct {
	mu        sync.Mutex
	sent      []sentEnvelope
	broadcast []wire.Envelope
	sendOK    bool
}

func (f *fakeRouter) SendEnvelope(ctx context.Context, targetID string, env wire.Envelope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEnvelope{targetID, env})
	return f.sendOK
}

func (f *fakeRouter) BroadcastEnvelope(ctx context.Context, env wire.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = append(f.broadcast, env)
}

type fakeListener struct {
	mu           sync.Mutex
	unsubscribed []string
	errs         []error
}

func (l *fakeListener) OnUnsubscribed(ns string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unsubscribed = append(l.unsubscribed, ns)
}

func (l *fakeListener) OnError(err error, ns string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func TestBus_Publish_ForwardsToRouter(t *testing.T) {
	b := New()
	r := &fakeRouter{sendOK: true}
	b.SetRouter(r)

	ok := b.Publish(context.Background(), "dev-b", "events", "tick", []byte(`{"n":1}`))
	assert.True(t, ok)
	require.Len(t, r.sent, 1)
	assert.Equal(t, "dev-b", r.sent[0].target)
	assert.Equal(t, "events", r.sent[0].env.Namespace)
	assert.Equal(t, "tick", r.sent[0].env.Type)
}

func TestBus_Publish_NoRouter_ReturnsFalse(t *testing.T) {
	b := New()
	assert.False(t, b.Publish(context.Background(), "dev-b", "events", "tick", nil))
}

func TestBus_Broadcast_ForwardsToRouter(t *testing.T) {
	b := New()
	r := &fakeRouter{}
	b.SetRouter(r)

	b.Broadcast(context.Background(), "events", "tick", []byte(`{}`))
	require.Len(t, r.broadcast, 1)
	assert.Equal(t, "events", r.broadcast[0].Namespace)
}

func TestBus_Subscribe_DispatchesOnlyToMatchingNamespace(t *testing.T) {
	b := New()
	var eventsCount, otherCount int
	b.Subscribe("events", func(m meshnode.IncomingMessage) error {
		eventsCount++
		return nil
	})
	b.Subscribe("other", func(m meshnode.IncomingMessage) error {
		otherCount++
		return nil
	})

	b.OnIncomingMessage(meshnode.IncomingMessage{Namespace: "events", Type: "tick"})

	assert.Equal(t, 1, eventsCount)
	assert.Equal(t, 0, otherCount)
}

func TestBus_Subscribe_MultipleHandlersAllFire(t *testing.T) {
	b := New()
	var calls []int
	var mu sync.Mutex
	for i := 0; i < 3; i++ {
		i := i
		b.Subscribe("events", func(m meshnode.IncomingMessage) error {
			mu.Lock()
			calls = append(calls, i)
			mu.Unlock()
			return nil
		})
	}

	b.OnIncomingMessage(meshnode.IncomingMessage{Namespace: "events"})
	assert.Len(t, calls, 3)
}

func TestBus_HandlerError_DoesNotBlockOthersAndEmitsOnError(t *testing.T) {
	b := New()
	l := &fakeListener{}
	b.SetListener(l)

	var secondCalled bool
	b.Subscribe("events", func(m meshnode.IncomingMessage) error {
		return errors.New("boom")
	})
	b.Subscribe("events", func(m meshnode.IncomingMessage) error {
		secondCalled = true
		return nil
	})

	b.OnIncomingMessage(meshnode.IncomingMessage{Namespace: "events"})

	assert.True(t, secondCalled)
	require.Len(t, l.errs, 1)
	assert.EqualError(t, l.errs[0], "boom")
}

func TestBus_HandlerPanic_IsRecoveredAndReported(t *testing.T) {
	b := New()
	l := &fakeListener{}
	b.SetListener(l)

	var secondCalled bool
	b.Subscribe("events", func(m meshnode.IncomingMessage) error {
		panic("kaboom")
	})
	b.Subscribe("events", func(m meshnode.IncomingMessage) error {
		secondCalled = true
		return nil
	})

	b.OnIncomingMessage(meshnode.IncomingMessage{Namespace: "events"})

	assert.True(t, secondCalled)
	require.Len(t, l.errs, 1)
}

func TestBus_Disposer_RemovesHandlerAndEmitsUnsubscribedOnLast(t *testing.T) {
	b := New()
	l := &fakeListener{}
	b.SetListener(l)

	var calls int
	dispose1 := b.Subscribe("events", func(m meshnode.IncomingMessage) error { calls++; return nil })
	dispose2 := b.Subscribe("events", func(m meshnode.IncomingMessage) error { calls++; return nil })

	dispose1()
	assert.Empty(t, l.unsubscribed, "namespace still has a live subscriber")

	b.OnIncomingMessage(meshnode.IncomingMessage{Namespace: "events"})
	assert.Equal(t, 1, calls)

	dispose2()
	require.Len(t, l.unsubscribed, 1)
	assert.Equal(t, "events", l.unsubscribed[0])

	dispose2()
	assert.Len(t, l.unsubscribed, 1, "disposing twice is a no-op")
}
