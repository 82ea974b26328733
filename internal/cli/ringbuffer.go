package cli

import "sync"

// RingBuffer is a thread-safe circular buffer with fixed capacity.
// When the buffer is full, new items overwrite the oldest items.
type RingBuffer[T any] struct {
	items   []T
	head    int // next write position
	count   int
	cap     int
	dropped int
	mu      sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified capacity.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer[T]{
		items: make([]T, capacity),
		cap:   capacity,
	}
}

// Push adds an item to the buffer.
// If the buffer is full, the oldest item is overwritten.
func (b *RingBuffer[T]) Push(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.cap

	if b.count < b.cap {
		b.count++
	} else {
		b.dropped++
	}
}

// All returns all items in the buffer, oldest first.
func (b *RingBuffer[T]) All() []T {
	return b.Newest(b.Cap())
}

// Newest returns up to n of the most recent items, oldest first.
func (b *RingBuffer[T]) Newest(n int) []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.count {
		n = b.count
	}
	if n <= 0 {
		return nil
	}

	result := make([]T, n)
	start := (b.head - n + b.cap) % b.cap
	for i := 0; i < n; i++ {
		result[i] = b.items[(start+i)%b.cap]
	}
	return result
}

// Len returns the current number of items in the buffer.
func (b *RingBuffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Cap returns the buffer capacity.
func (b *RingBuffer[T]) Cap() int {
	return b.cap
}

// Dropped returns how many items were overwritten before being read.
func (b *RingBuffer[T]) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
