package buffer

import (
	"sync"

	"go.uber.org/zap"
)

// RingBuffer is a thread-safe circular buffer that overwrites the oldest
// item when full. Readings polled from the backend wait here until the
// remote_write pusher drains them.
type RingBuffer[T any] struct {
	mu         sync.Mutex
	data       []T
	head       int
	size       int
	overwrites uint64
	logger     *zap.Logger
}

// New creates a RingBuffer with the given capacity (minimum 1)
func New[T any](capacity int, logger *zap.Logger) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		data:   make([]T, capacity),
		logger: logger,
	}
}

// Add inserts an item, overwriting the oldest one when the buffer is full
func (rb *RingBuffer[T]) Add(item T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == len(rb.data) {
		rb.overwrites++
		// Log the first overwrite and then every capacity-th one, a stalled
		// pusher would otherwise produce one warning per poll.
		if rb.overwrites%uint64(len(rb.data)) == 1 || len(rb.data) == 1 {
			rb.logger.Warn("ring buffer full, overwriting oldest entry",
				zap.Int("capacity", len(rb.data)),
				zap.Uint64("overwrites", rb.overwrites))
		}
	} else {
		rb.size++
	}

	rb.data[rb.head] = item
	rb.head = (rb.head + 1) % len(rb.data)
}

// AddAll inserts items in order
func (rb *RingBuffer[T]) AddAll(items []T) {
	for _, item := range items {
		rb.Add(item)
	}
}

// GetAllAndClear returns all buffered items, oldest first, and empties the
// buffer. The returned slice is a copy.
func (rb *RingBuffer[T]) GetAllAndClear() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 {
		return nil
	}

	results := make([]T, rb.size)
	start := (rb.head - rb.size + len(rb.data)) % len(rb.data)
	for i := 0; i < rb.size; i++ {
		results[i] = rb.data[(start+i)%len(rb.data)]
	}

	var zero T
	for i := range rb.data {
		rb.data[i] = zero
	}
	rb.size = 0
	rb.head = 0

	return results
}

// Size returns the current number of items
func (rb *RingBuffer[T]) Size() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// Capacity returns the maximum number of items
func (rb *RingBuffer[T]) Capacity() int {
	return len(rb.data)
}

// Overwrites returns how many items were dropped because the buffer was full
func (rb *RingBuffer[T]) Overwrites() uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.overwrites
}
