package timer

import (
	"container/heap"
	"sync"
	"time"
)

// heapItem is one scheduled entry, grounded on the generic
// container/heap.Interface wrapper in
// Chris-Alexander-Pop-go-hyperforge/pkg/datastructures/heap/heap.go —
// here specialized to (time, FireFunc) pairs rather than a generic
// scored value, and extended with an index so Cancel can remove an
// arbitrary entry in O(log n) via heap.Remove rather than only ever
// popping the root.
type heapItem struct {
	handle Handle
	at     time.Time
	fire   FireFunc
	index  int
}

// heapEngine is the Heap timer engine (spec.md §4.6): O(log n) insert
// and fire, suited to a large number of independently-timed entries. It
// implements heap.Interface directly over its own items slice, the same
// shape hyperforge's MinHeap uses.
type heapEngine struct {
	mu         sync.Mutex
	items      []*heapItem
	byHandle   map[Handle]*heapItem
	nextHandle uint64

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewHeapEngine returns an Engine backed by a binary min-heap ordered by
// fire time.
func NewHeapEngine() Engine {
	return &heapEngine{
		byHandle: make(map[Handle]*heapItem),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

func (e *heapEngine) Len() int            { return len(e.items) }
func (e *heapEngine) Less(i, j int) bool  { return e.items[i].at.Before(e.items[j].at) }
func (e *heapEngine) Swap(i, j int) {
	e.items[i], e.items[j] = e.items[j], e.items[i]
	e.items[i].index = i
	e.items[j].index = j
}
func (e *heapEngine) Push(x any) {
	it := x.(*heapItem)
	it.index = len(e.items)
	e.items = append(e.items, it)
}
func (e *heapEngine) Pop() any {
	n := len(e.items)
	it := e.items[n-1]
	e.items[n-1] = nil
	e.items = e.items[:n-1]
	return it
}

func (e *heapEngine) Start() {
	e.wg.Add(1)
	go e.loop()
}

func (e *heapEngine) Stop() {
	close(e.stop)
	e.wg.Wait()
}

func (e *heapEngine) Schedule(at time.Time, fire FireFunc) Handle {
	e.mu.Lock()
	e.nextHandle++
	h := Handle(e.nextHandle)
	it := &heapItem{handle: h, at: at, fire: fire}
	heap.Push(e, it)
	e.byHandle[h] = it
	isRoot := it.index == 0
	e.mu.Unlock()

	if isRoot {
		e.signalWake()
	}
	return h
}

func (e *heapEngine) Cancel(h Handle) {
	e.mu.Lock()
	it, ok := e.byHandle[h]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.byHandle, h)
	heap.Remove(e, it.index)
	e.mu.Unlock()
}

func (e *heapEngine) signalWake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *heapEngine) loop() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		hasNext := len(e.items) > 0
		var deadline time.Time
		if hasNext {
			deadline = e.items[0].at
		}
		e.mu.Unlock()

		if !chanWait(e.stop, e.wake, hasNext, deadline) {
			select {
			case <-e.stop:
				return
			default:
			}
			continue
		}
		e.fireDue()
	}
}

func (e *heapEngine) fireDue() {
	now := time.Now()
	var due []FireFunc

	e.mu.Lock()
	for len(e.items) > 0 && !e.items[0].at.After(now) {
		it := heap.Pop(e).(*heapItem)
		delete(e.byHandle, it.handle)
		due = append(due, it.fire)
	}
	e.mu.Unlock()

	for _, fire := range due {
		fire()
	}
}
