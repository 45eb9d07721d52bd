// Package ring provides a bounded FIFO buffer that evicts the oldest entry
// once full.
package ring

// Buffer is a fixed-capacity FIFO. It is not safe for concurrent use; callers
// guard it with their own lock.
type Buffer[T any] struct {
	items []T
	head  int
	size  int
}

// New creates a buffer holding at most capacity items. A non-positive
// capacity is treated as 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest item when the buffer is full.
// It reports whether an item was evicted.
func (b *Buffer[T]) Push(v T) bool {
	idx := (b.head + b.size) % len(b.items)
	b.items[idx] = v
	if b.size < len(b.items) {
		b.size++
		return false
	}
	b.head = (b.head + 1) % len(b.items)
	return true
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int { return b.size }

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// Items returns a copy of all items, oldest first.
func (b *Buffer[T]) Items() []T {
	return b.Last(b.size)
}

// Last returns a copy of the newest n items, oldest first.
func (b *Buffer[T]) Last(n int) []T {
	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return []T{}
	}
	out := make([]T, n)
	start := b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.items[(b.head+start+i)%len(b.items)]
	}
	return out
}

// Each calls fn for every item from newest to oldest until fn returns false.
func (b *Buffer[T]) Each(fn func(T) bool) {
	for i := b.size - 1; i >= 0; i-- {
		if !fn(b.items[(b.head+i)%len(b.items)]) {
			return
		}
	}
}

// Clear removes every item and returns how many were dropped.
func (b *Buffer[T]) Clear() int {
	n := b.size
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head, b.size = 0, 0
	return n
}
