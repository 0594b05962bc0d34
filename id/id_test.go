package id

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatorMonotonicAcrossGoroutines(t *testing.T) {
	var a Allocator
	const n = 2000

	seen := make([]uint64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			seen[i] = a.Next()
		}()
	}
	wg.Wait()

	unique := make(map[uint64]struct{}, n)
	for _, v := range seen {
		require.NotZero(t, v, "0 is reserved as the no-id sentinel")
		_, dup := unique[v]
		require.False(t, dup, "allocator handed out %d twice", v)
		unique[v] = struct{}{}
	}
	assert.Len(t, unique, n)
}

func TestRefCountLifecycle(t *testing.T) {
	rc := NewRefCount()
	assert.EqualValues(t, 1, rc.Count())

	assert.EqualValues(t, 2, rc.Retain())
	assert.EqualValues(t, 1, rc.Release())
	assert.EqualValues(t, 0, rc.Release())
	assert.EqualValues(t, 0, rc.Count())
}
