package logger

import "sync"

// RingBuffer is a fixed-capacity circular buffer safe for concurrent use.
// Once full, the oldest item is overwritten.
type RingBuffer[T any] struct {
	items []T
	head  int // index of the oldest item
	count int
	mu    sync.RWMutex
}

// NewRingBuffer creates a ring buffer holding at most capacity items.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	return &RingBuffer[T]{items: make([]T, capacity)}
}

// Push appends an item, evicting the oldest when at capacity.
func (r *RingBuffer[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := len(r.items)
	r.items[(r.head+r.count)%size] = item
	if r.count < size {
		r.count++
	} else {
		r.head = (r.head + 1) % size
	}
}

// GetAll returns the buffered items, oldest first.
func (r *RingBuffer[T]) GetAll() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	return out
}

// Len returns the number of buffered items.
func (r *RingBuffer[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Clear empties the buffer.
func (r *RingBuffer[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.count = 0
}
