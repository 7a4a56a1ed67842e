package ringbuffer

import "sync"

// RingBuffer is a fixed-capacity buffer that overwrites the oldest entry
// when full. It is safe for concurrent use.
type RingBuffer[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	count int
}

func New[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}

	return &RingBuffer[T]{
		items: make([]T, capacity),
	}
}

func (b *RingBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[(b.head+b.count)%len(b.items)] = item
	if b.count < len(b.items) {
		b.count++
	} else {
		// full, the oldest entry was just overwritten
		b.head = (b.head + 1) % len(b.items)
	}
}

// GetAll returns the buffered items in insertion order, oldest first.
func (b *RingBuffer[T]) GetAll() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, b.items[(b.head+i)%len(b.items)])
	}

	return out
}

func (b *RingBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}

func (b *RingBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.head = 0
	b.count = 0
}
