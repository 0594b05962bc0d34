package mchain

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/actorkit/message"
)

type order struct{ id int }
type cancel struct{ id int }

func TestSendThenReceiveRoundTrips(t *testing.T) {
	c := New(Params{Mode: Unlimited})
	require.NoError(t, c.Send(message.New(order{id: 1})))

	var got order
	err := Receive(c, Immediate(), On(func(o order) error { got = o; return nil }))
	require.NoError(t, err)
	assert.Equal(t, 1, got.id)
	assert.Equal(t, 0, c.Len())
}

func TestReceiveDispatchesByMessageType(t *testing.T) {
	c := New(Params{Mode: Unlimited})
	require.NoError(t, c.Send(message.New(cancel{id: 9})))

	var sawOrder, sawCancel bool
	err := Receive(c, Immediate(),
		On(func(order) error { sawOrder = true; return nil }),
		On(func(cancel) error { sawCancel = true; return nil }),
	)
	require.NoError(t, err)
	assert.False(t, sawOrder)
	assert.True(t, sawCancel)
}

func TestReceiveWithNoMatchingHandlerReturnsError(t *testing.T) {
	c := New(Params{Mode: Unlimited})
	require.NoError(t, c.Send(message.New(order{id: 1})))

	err := Receive(c, Immediate(), On(func(cancel) error { return nil }))
	assert.ErrorIs(t, err, ErrNoHandlerForType)
}

func TestImmediateReceiveOnEmptyChainTimesOutWithoutBlocking(t *testing.T) {
	c := New(Params{Mode: Unlimited})
	err := Receive(c, Immediate(), On(func(order) error { return nil }))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestReceiveWithInfiniteWaitBlocksUntilSend(t *testing.T) {
	c := New(Params{Mode: Unlimited})
	done := make(chan error, 1)
	go func() {
		done <- Receive(c, Infinite(), On(func(order) error { return nil }))
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Send(message.New(order{id: 5})))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Receive never woke up after Send")
	}
}

func TestReceiveTimeoutExpiresWithNothingSent(t *testing.T) {
	c := New(Params{Mode: Unlimited})
	start := time.Now()
	err := Receive(c, Timeout(20*time.Millisecond), On(func(order) error { return nil }))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestBoundedDynamicDropNewestRejectsOverflow(t *testing.T) {
	c := New(Params{Mode: BoundedDynamic, Capacity: 1, Overflow: ReactionDropNewest})
	require.NoError(t, c.Send(message.New(order{id: 1})))
	require.NoError(t, c.Send(message.New(order{id: 2})))
	assert.Equal(t, 1, c.Len())

	var got order
	require.NoError(t, Receive(c, Immediate(), On(func(o order) error { got = o; return nil })))
	assert.Equal(t, 1, got.id, "drop_newest must keep the original item, not the overflowing one")
}

func TestBoundedDynamicRemoveOldestEvictsFrontItem(t *testing.T) {
	c := New(Params{Mode: BoundedDynamic, Capacity: 1, Overflow: ReactionRemoveOldest})
	require.NoError(t, c.Send(message.New(order{id: 1})))
	require.NoError(t, c.Send(message.New(order{id: 2})))
	assert.Equal(t, 1, c.Len())

	var got order
	require.NoError(t, Receive(c, Immediate(), On(func(o order) error { got = o; return nil })))
	assert.Equal(t, 2, got.id, "remove_oldest must evict the original item in favor of the new one")
}

func TestBoundedDynamicThrowReportsFullImmediately(t *testing.T) {
	c := New(Params{Mode: BoundedDynamic, Capacity: 1, Overflow: ReactionThrow})
	require.NoError(t, c.Send(message.New(order{id: 1})))
	err := c.Send(message.New(order{id: 2}))
	assert.ErrorIs(t, err, ErrChainFull)
}

func TestBoundedDynamicBlockWaitsForSpaceThenSucceeds(t *testing.T) {
	c := New(Params{Mode: BoundedDynamic, Capacity: 1, Overflow: ReactionBlock})
	require.NoError(t, c.Send(message.New(order{id: 1})))

	done := make(chan error, 1)
	go func() {
		done <- c.Send(message.New(order{id: 2}))
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, Receive(c, Immediate(), On(func(order) error { return nil })), "draining one item must free a slot for the blocked sender")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked Send never unblocked after space freed up")
	}
	assert.Equal(t, 1, c.Len())
}

func TestBoundedDynamicBlockTimesOutWhenNoSpaceFrees(t *testing.T) {
	c := New(Params{Mode: BoundedDynamic, Capacity: 1, Overflow: ReactionBlock, Block: 20 * time.Millisecond})
	require.NoError(t, c.Send(message.New(order{id: 1})))

	err := c.Send(message.New(order{id: 2}))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCloseDropDiscardsPendingContent(t *testing.T) {
	c := New(Params{Mode: Unlimited})
	require.NoError(t, c.Send(message.New(order{id: 1})))

	c.Close(ClosedDrop)
	assert.Equal(t, 0, c.Len())

	err := Receive(c, Immediate(), On(func(order) error { return nil }))
	assert.ErrorIs(t, err, ErrChainClosed)

	assert.ErrorIs(t, c.Send(message.New(order{id: 2})), ErrChainClosed)
}

func TestCloseRetainKeepsPendingContentUntilDrained(t *testing.T) {
	c := New(Params{Mode: Unlimited})
	require.NoError(t, c.Send(message.New(order{id: 1})))

	c.Close(ClosedRetain)
	assert.Equal(t, 1, c.Len())

	var got order
	require.NoError(t, Receive(c, Immediate(), On(func(o order) error { got = o; return nil })))
	assert.Equal(t, 1, got.id)

	err := Receive(c, Immediate(), On(func(order) error { return nil }))
	assert.ErrorIs(t, err, ErrChainClosed)
}

func TestNotEmptyFiresOnlyOnEmptyToNonEmptyTransition(t *testing.T) {
	var calls int
	c := New(Params{Mode: Unlimited, NotEmpty: func() { calls++ }})

	require.NoError(t, c.Send(message.New(order{id: 1})))
	require.NoError(t, c.Send(message.New(order{id: 2})))
	assert.Equal(t, 1, calls)

	require.NoError(t, Receive(c, Immediate(), On(func(order) error { return nil })))
	require.NoError(t, Receive(c, Immediate(), On(func(order) error { return nil })))
	require.NoError(t, c.Send(message.New(order{id: 3})))
	assert.Equal(t, 2, calls, "draining to empty then sending again must re-fire the notificator")
}

func TestReceiveBulkConsumesUntilPredicateSatisfied(t *testing.T) {
	c := New(Params{Mode: Unlimited})
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Send(message.New(order{id: i})))
	}

	var ids []int
	n, err := ReceiveBulk(c, Immediate(), func(count int) bool { return count == 3 },
		On(func(o order) error { ids = append(ids, o.id); return nil }))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{0, 1, 2}, ids)
	assert.Equal(t, 2, c.Len())
}

func TestReceiveBulkStopsWhenChainRunsDry(t *testing.T) {
	c := New(Params{Mode: Unlimited})
	require.NoError(t, c.Send(message.New(order{id: 1})))
	require.NoError(t, c.Send(message.New(order{id: 2})))

	n, err := ReceiveBulk(c, Immediate(), func(count int) bool { return count == 10 },
		On(func(order) error { return nil }))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSelectPicksWhicheverChainIsReady(t *testing.T) {
	a := New(Params{Mode: Unlimited})
	b := New(Params{Mode: Unlimited})
	require.NoError(t, b.Send(message.New(order{id: 42})))

	var got order
	err := Select(Immediate(), []Handler{On(func(o order) error { got = o; return nil })}, a, b)
	require.NoError(t, err)
	assert.Equal(t, 42, got.id)
}

func TestSelectBlocksThenWakesOnSend(t *testing.T) {
	a := New(Params{Mode: Unlimited})
	b := New(Params{Mode: Unlimited})

	var mu sync.Mutex
	var got order
	done := make(chan error, 1)
	go func() {
		done <- Select(Infinite(), []Handler{On(func(o order) error {
			mu.Lock()
			got = o
			mu.Unlock()
			return nil
		})}, a, b)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Send(message.New(order{id: 7})))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Select never woke up after a watched chain received a send")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 7, got.id)
}

func TestSelectReportsClosedChain(t *testing.T) {
	a := New(Params{Mode: Unlimited})
	a.Close(ClosedDrop)

	err := Select(Immediate(), []Handler{On(func(order) error { return nil })}, a)
	assert.ErrorIs(t, err, ErrChainClosed)
}
