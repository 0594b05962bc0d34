package mchain

import (
	"errors"
	"sync"
	"time"

	"github.com/webitel/actorkit/message"
)

// ErrNoHandlerForType is returned when a received message's type
// matches none of the handlers passed to Receive/ReceiveBulk/Select.
var ErrNoHandlerForType = errors.New("mchain: no handler registered for message type")

// Handler binds one message type to the function that processes it,
// built with On. Receive/ReceiveBulk/Select accept a list of these and
// dispatch by matching the popped message's runtime type.
type Handler struct {
	msgType message.Type
	invoke  func(inst *message.Instance) error
}

// On builds a Handler for payload type T.
func On[T any](fn func(payload T) error) Handler {
	return Handler{
		msgType: message.TypeOf[T](),
		invoke: func(inst *message.Instance) error {
			payload, _ := inst.Payload().(T)
			return fn(payload)
		},
	}
}

func dispatch(inst *message.Instance, handlers []Handler) error {
	for _, h := range handlers {
		if h.msgType == inst.Type() {
			return h.invoke(inst)
		}
	}
	return ErrNoHandlerForType
}

// WaitPolicy controls how long Receive/ReceiveBulk/Select block when
// nothing is immediately available.
type WaitPolicy struct {
	infinite bool
	timeout  time.Duration
}

// Immediate never blocks: it checks once and returns ErrTimeout if
// nothing is ready.
func Immediate() WaitPolicy { return WaitPolicy{} }

// Infinite blocks until something becomes ready or the chain closes.
func Infinite() WaitPolicy { return WaitPolicy{infinite: true} }

// Timeout blocks for at most d before returning ErrTimeout.
func Timeout(d time.Duration) WaitPolicy { return WaitPolicy{timeout: d} }

func (wp WaitPolicy) hasDeadline() bool { return !wp.infinite && wp.timeout > 0 }

// Receive consumes exactly one message from chain and dispatches it to
// the handler matching its type (spec.md §4.7 "receive"). It returns
// ErrTimeout if wp's deadline elapses first, or ErrChainClosed if the
// chain closes with nothing left to deliver.
func Receive(c *Chain, wp WaitPolicy, handlers ...Handler) error {
	inst, err := c.receiveOne(wp)
	if err != nil {
		return err
	}
	return dispatch(inst, handlers)
}

// ReceiveBulk consumes messages from chain, dispatching each to its
// matching handler, until until(count) returns true, the chain runs dry
// without fulfilling wp's wait policy, or wp's overall deadline elapses
// (spec.md §4.7 "receive_bulk"). It returns the number of messages
// consumed. A handler error stops the loop and is returned immediately.
func ReceiveBulk(c *Chain, wp WaitPolicy, until func(count int) bool, handlers ...Handler) (int, error) {
	hasDeadline := wp.hasDeadline()
	var deadline time.Time
	if hasDeadline {
		deadline = time.Now().Add(wp.timeout)
	}

	count := 0
	for {
		if until(count) {
			return count, nil
		}

		step := wp
		if hasDeadline {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return count, nil
			}
			step = Timeout(remaining)
		}

		inst, err := c.receiveOne(step)
		if err != nil {
			if errors.Is(err, ErrTimeout) || errors.Is(err, ErrChainClosed) {
				return count, nil
			}
			return count, err
		}
		if derr := dispatch(inst, handlers); derr != nil {
			return count, derr
		}
		count++
	}
}

// receiveOne blocks per wp until an item is available, the chain closes,
// or the deadline elapses.
func (c *Chain) receiveOne(wp WaitPolicy) (*message.Instance, error) {
	if inst, closed := c.tryPop(); inst != nil || closed {
		if inst != nil {
			return inst, nil
		}
		return nil, ErrChainClosed
	}
	if !wp.infinite && wp.timeout <= 0 {
		return nil, ErrTimeout
	}

	var timedOut bool
	var timer *time.Timer
	if !wp.infinite {
		timer = time.AfterFunc(wp.timeout, func() {
			c.lock.Lock()
			timedOut = true
			c.lock.Broadcast()
			c.lock.Unlock()
		})
		defer timer.Stop()
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	c.lock.WaitUntil(func() bool {
		return len(c.items) > 0 || c.closure != Open || timedOut
	})
	if len(c.items) > 0 {
		return c.popFrontLocked(), nil
	}
	if c.closure != Open {
		return nil, ErrChainClosed
	}
	return nil, ErrTimeout
}

// Select waits across several chains, consuming and dispatching exactly
// one message from whichever becomes ready first — non-empty or closed
// (spec.md §4.7 "select"). Every registered waiter is woken the instant
// any one of the chains changes state, rather than polling.
func Select(wp WaitPolicy, handlers []Handler, chains ...*Chain) error {
	hasDeadline := wp.hasDeadline()
	var deadline time.Time
	if hasDeadline {
		deadline = time.Now().Add(wp.timeout)
	}

	for {
		for _, c := range chains {
			inst, closed := c.tryPop()
			if inst != nil {
				return dispatch(inst, handlers)
			}
			if closed {
				return ErrChainClosed
			}
		}

		if !wp.infinite && !hasDeadline {
			return ErrTimeout
		}

		wake := make(chan struct{})
		var once sync.Once
		fire := func() { once.Do(func() { close(wake) }) }
		for _, c := range chains {
			c.registerWaiter(fire)
		}

		if hasDeadline {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ErrTimeout
			}
			t := time.NewTimer(remaining)
			select {
			case <-wake:
				t.Stop()
			case <-t.C:
				return ErrTimeout
			}
		} else {
			<-wake
		}
	}
}
