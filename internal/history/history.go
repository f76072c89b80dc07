// Package history provides a fixed-capacity, newest-first store with
// oldest-first eviction.
package history

import "sync"

// History keeps at most Cap() items. Index 0 is always the most recently
// pushed item. Safe for concurrent use: pushes are mutually exclusive, so
// evict-then-insert is atomic with respect to readers and other writers.
type History[T any] struct {
	mu    sync.RWMutex
	items []T // ring storage, len == capacity
	start int // physical index of the oldest item
	n     int
}

// New returns an empty history. A capacity below 1 is treated as 1.
func New[T any](capacity int) *History[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &History[T]{items: make([]T, capacity)}
}

// PushFront inserts item at the head, evicting the oldest item first when
// the history is full.
func (h *History[T]) PushFront(item T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := len(h.items)
	if h.n == c {
		h.items[h.start] = item
		h.start = (h.start + 1) % c
		return
	}
	h.items[(h.start+h.n)%c] = item
	h.n++
}

// Slice returns up to count items beginning at offset from, newest-first.
// Out-of-range arguments shorten the result; they never fail.
func (h *History[T]) Slice(from, count int) []T {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if from < 0 {
		from = 0
	}
	if count <= 0 || from >= h.n {
		return []T{}
	}
	end := from + count
	if end > h.n || end < from {
		end = h.n
	}

	out := make([]T, 0, end-from)
	for i := from; i < end; i++ {
		out = append(out, h.at(i))
	}
	return out
}

// Snapshot returns every stored item, newest-first.
func (h *History[T]) Snapshot() []T {
	return h.Slice(0, h.Cap())
}

// Len reports the number of stored items.
func (h *History[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.n
}

// Cap reports the fixed capacity.
func (h *History[T]) Cap() int {
	return len(h.items)
}

// at maps a newest-first logical index to storage. Caller must hold h.mu.
func (h *History[T]) at(i int) T {
	return h.items[(h.start+h.n-1-i)%len(h.items)]
}
