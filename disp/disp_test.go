package disp

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/actorkit/id"
)

func TestOneThreadRunsDemandsFIFO(t *testing.T) {
	d := NewOneThread(nil, nil, nil)
	defer d.Stop()

	q, err := d.Bind(id.Agent(1))
	require.NoError(t, err)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, q.Push(Demand{Exec: func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
			return nil
		}}))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestActiveObjectRunsAgentsConcurrently(t *testing.T) {
	d := NewActiveObject(nil, nil, nil)

	var running int32
	var maxSeen int32
	var wg sync.WaitGroup
	wg.Add(2)

	for i := 0; i < 2; i++ {
		q, err := d.Bind(id.Agent(i + 1))
		require.NoError(t, err)
		require.NoError(t, q.Push(Demand{Exec: func() error {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			wg.Done()
			return nil
		}}))
	}
	wg.Wait()
	assert.EqualValues(t, 2, maxSeen, "two distinct agents must be able to run in parallel")
}

func TestThreadPoolCooperationModeSerializesCoop(t *testing.T) {
	tp := NewThreadPool(nil, 4, FIFOCooperation, 8, nil, nil)
	defer tp.Stop()

	var running, maxSeen int32
	var wg sync.WaitGroup
	wg.Add(4)

	for i := 0; i < 4; i++ {
		q, err := tp.BindCoop(id.Agent(i+1), id.Coop(1))
		require.NoError(t, err)
		require.NoError(t, q.Push(Demand{Exec: func() error {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			wg.Done()
			return nil
		}}))
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxSeen, "agents sharing a cooperation unit must never run in parallel")
}

func TestThreadPoolIndividualModeAllowsParallel(t *testing.T) {
	tp := NewThreadPool(nil, 4, FIFOIndividual, 8, nil, nil)
	defer tp.Stop()

	var running, maxSeen int32
	var wg sync.WaitGroup
	wg.Add(4)

	for i := 0; i < 4; i++ {
		q, err := tp.BindCoop(id.Agent(i+1), id.Coop(1))
		require.NoError(t, err)
		require.NoError(t, q.Push(Demand{Exec: func() error {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			wg.Done()
			return nil
		}}))
	}
	wg.Wait()
	assert.Greater(t, maxSeen, int32(1), "individual mode must allow distinct agents to run concurrently")
}

func TestAdvancedThreadPoolExcludesNotThreadSafe(t *testing.T) {
	tp := NewAdvancedThreadPool(nil, 4, nil, nil)
	defer tp.Stop()

	q, err := tp.Bind(id.Agent(1))
	require.NoError(t, err)

	var running, maxSeen int32
	var wg sync.WaitGroup
	wg.Add(5)

	// four thread-safe handlers...
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Push(Demand{ThreadSafe: true, Exec: func() error {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}
			time.Sleep(40 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			wg.Done()
			return nil
		}}))
	}
	// ...and one not-thread-safe handler that must never overlap them.
	var overlapped bool
	require.NoError(t, q.Push(Demand{ThreadSafe: false, Exec: func() error {
		if atomic.LoadInt32(&running) > 0 {
			overlapped = true
		}
		wg.Done()
		return nil
	}}))

	wg.Wait()
	assert.False(t, overlapped, "a not_thread_safe handler must not run concurrently with thread_safe handlers of the same agent")
}

func TestPriorityStrictServesHighestFirst(t *testing.T) {
	d := NewPriorityStrict(nil, nil, nil)
	defer d.Stop()

	low, err := d.BindPriority(id.Agent(1), P0)
	require.NoError(t, err)
	high, err := d.BindPriority(id.Agent(2), P7)
	require.NoError(t, err)

	var order []string
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	block := make(chan struct{})
	// Occupy the single worker until both demands below are queued, so
	// its next pick has to choose between them.
	require.NoError(t, low.Push(Demand{Exec: func() error {
		<-block
		return nil
	}}))
	require.NoError(t, low.Push(Demand{Exec: func() error {
		<-block
		mu.Lock()
		order = append(order, "low")
		mu.Unlock()
		wg.Done()
		return nil
	}}))
	require.NoError(t, high.Push(Demand{Exec: func() error {
		mu.Lock()
		order = append(order, "high")
		mu.Unlock()
		wg.Done()
		return nil
	}}))
	close(block)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestPriorityDedicatedRunsClassesInParallel(t *testing.T) {
	d := NewPriorityDedicated(nil, nil, nil)
	defer d.Stop()

	var wg sync.WaitGroup
	wg.Add(2)
	started := make(chan Priority, 2)

	for _, p := range []Priority{P0, P7} {
		q, err := d.BindPriority(id.Agent(int(p)+1), p)
		require.NoError(t, err)
		p := p
		require.NoError(t, q.Push(Demand{Exec: func() error {
			started <- p
			time.Sleep(20 * time.Millisecond)
			wg.Done()
			return nil
		}}))
	}

	seen := map[Priority]bool{}
	for i := 0; i < 2; i++ {
		select {
		case p := <-started:
			seen[p] = true
		case <-time.After(time.Second):
			t.Fatal("dedicated priority workers did not both start")
		}
	}
	wg.Wait()
	assert.True(t, seen[P0] && seen[P7])
}
