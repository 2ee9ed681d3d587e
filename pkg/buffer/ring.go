// Package buffer provides a generic, thread-safe bounded ring buffer.
// When full, the oldest entry is overwritten, which caps memory for
// histories like health samples.
package buffer

import "sync"

// Ring is a fixed-capacity ring buffer. Writes never block; once full, each
// push evicts the oldest entry.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int // next write position
	size  int

	pushed  uint64
	evicted uint64
}

// NewRing creates a ring with the given capacity (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends an item, evicting the oldest when full.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	} else {
		r.evicted++
	}
	r.pushed++
}

// Len returns the number of stored items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Items returns the stored items oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, r.size)
	start := r.head - r.size
	if start < 0 {
		start += len(r.items)
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(start+i)%len(r.items)])
	}
	return out
}

// Last returns the most recently pushed item.
func (r *Ring[T]) Last() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	idx := r.head - 1
	if idx < 0 {
		idx += len(r.items)
	}
	return r.items[idx], true
}

// Clear removes all items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}

// Evicted returns how many items were overwritten since creation.
func (r *Ring[T]) Evicted() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.evicted
}
