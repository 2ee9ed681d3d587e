package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_PushAndItems(t *testing.T) {
	r := NewRing[int](3)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 3, r.Cap())

	r.Push(1)
	r.Push(2)
	assert.Equal(t, []int{1, 2}, r.Items())
}

func TestRing_OverwritesOldestWhenFull(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{3, 4, 5}, r.Items())
	assert.Equal(t, uint64(2), r.Evicted())
}

func TestRing_Last(t *testing.T) {
	r := NewRing[string](2)

	_, ok := r.Last()
	assert.False(t, ok)

	r.Push("a")
	r.Push("b")
	r.Push("c")
	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, "c", last)
}

func TestRing_Clear(t *testing.T) {
	r := NewRing[int](4)
	r.Push(1)
	r.Push(2)

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Items())

	r.Push(9)
	assert.Equal(t, []int{9}, r.Items())
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := NewRing[int](0)
	assert.Equal(t, 1, r.Cap())
	r.Push(1)
	r.Push(2)
	assert.Equal(t, []int{2}, r.Items())
}

func TestRing_ConcurrentPush(t *testing.T) {
	r := NewRing[int](64)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Push(n)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 64, r.Len())
}
