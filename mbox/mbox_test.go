package mbox

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/actorkit/id"
	"github.com/webitel/actorkit/limit"
	"github.com/webitel/actorkit/message"
)

type ping struct{ n int }

type fakeSink struct {
	id       id.Agent
	mu       sync.Mutex
	received []*message.Instance
	limits   *limit.Registry
}

func newFakeSink(aid id.Agent) *fakeSink {
	return &fakeSink{id: aid, limits: limit.NewRegistry()}
}

func (s *fakeSink) ID() id.Agent { return s.id }

func (s *fakeSink) Enqueue(mboxID id.Mbox, inst *message.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, inst)
	return nil
}

func (s *fakeSink) LimitFor(msgType message.Type) (*limit.Control, bool) {
	return s.limits.For(msgType)
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

var alloc id.Allocator

func TestSendDeliversToSubscribedSink(t *testing.T) {
	m := New(alloc.NextMbox())
	sink := newFakeSink(alloc.NextAgent())
	m.Subscribe(message.TypeOf[ping](), sink, nil)

	require.NoError(t, m.Send(message.New(ping{n: 1})))
	assert.Equal(t, 1, sink.count())
}

func TestUnsubscribeRemovesSinkIdempotently(t *testing.T) {
	m := New(alloc.NextMbox())
	sink := newFakeSink(alloc.NextAgent())
	msgType := message.TypeOf[ping]()
	m.Subscribe(msgType, sink, nil)

	before := m.SubscriberCount(msgType)
	require.NoError(t, m.Unsubscribe(msgType, sink.ID()))
	assert.Equal(t, before-1, m.SubscriberCount(msgType))
	assert.ErrorIs(t, m.Unsubscribe(msgType, sink.ID()), ErrSubscriptionNotFound)
}

func TestDeliveryFilterRejectsNonMatchingPayload(t *testing.T) {
	m := New(alloc.NextMbox())
	sink := newFakeSink(alloc.NextAgent())
	m.Subscribe(message.TypeOf[ping](), sink, func(payload any) bool {
		p, ok := payload.(ping)
		return ok && p.n > 10
	})

	require.NoError(t, m.Send(message.New(ping{n: 1})))
	assert.Equal(t, 0, sink.count())

	require.NoError(t, m.Send(message.New(ping{n: 20})))
	assert.Equal(t, 1, sink.count())
}

func TestMutableMessageRejectedWithMultipleSinks(t *testing.T) {
	m := New(alloc.NextMbox())
	a := newFakeSink(alloc.NextAgent())
	b := newFakeSink(alloc.NextAgent())
	m.Subscribe(message.TypeOf[ping](), a, nil)
	m.Subscribe(message.TypeOf[ping](), b, nil)

	err := m.Send(message.NewMutable(ping{n: 1}))
	assert.ErrorIs(t, err, ErrMutableMultipleSubscribers)
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 0, b.count())
}

func TestMutableMessageAcceptedWithSingleSink(t *testing.T) {
	m := New(alloc.NextMbox())
	sink := newFakeSink(alloc.NextAgent())
	m.Subscribe(message.TypeOf[ping](), sink, nil)

	require.NoError(t, m.Send(message.NewMutable(ping{n: 1})))
	assert.Equal(t, 1, sink.count())
}

func TestForwardDecrementsRedirectDepthAndAborts(t *testing.T) {
	src := New(alloc.NextMbox())
	dst := New(alloc.NextMbox())
	sink := newFakeSink(alloc.NextAgent())
	dst.Subscribe(message.TypeOf[ping](), sink, nil)
	_ = src

	inst := message.New(ping{n: 1})
	for i := 0; i < message.DefaultRedirectDepth; i++ {
		require.NoError(t, Forward(dst, inst))
		inst = sink.received[len(sink.received)-1]
	}

	err := Forward(dst, inst)
	assert.ErrorIs(t, err, message.ErrRedirectionTooDeep)
}

func TestNamedMboxRegistryRefcounting(t *testing.T) {
	r := NewRegistry(&alloc)

	first := r.Introduce("chat", "room-1")
	second := r.Introduce("chat", "room-1")
	assert.Same(t, first, second)
	assert.Equal(t, 1, r.Len())

	ns, nm, ok := r.NameOf(first.ID())
	require.True(t, ok)
	assert.Equal(t, "chat", ns)
	assert.Equal(t, "room-1", nm)

	r.Release("chat", "room-1")
	assert.Equal(t, 1, r.Len(), "one external reference remains")

	r.Release("chat", "room-1")
	assert.Equal(t, 0, r.Len())
}
