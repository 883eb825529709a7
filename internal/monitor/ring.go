package monitor

import "sync"

// ring is a bounded append-only buffer that evicts the oldest entry once
// full. All methods are safe for concurrent use.
type ring[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	full  bool
	cap   int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{items: make([]T, 0, capacity), cap: capacity}
}

func (r *ring[T]) append(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		r.items = append(r.items, item)
		if len(r.items) == r.cap {
			r.full = true
		}
		return
	}
	r.items[r.head] = item
	r.head = (r.head + 1) % r.cap
}

// snapshot returns the buffered entries oldest first.
func (r *ring[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, 0, len(r.items))
	out = append(out, r.items[r.head:]...)
	out = append(out, r.items[:r.head]...)
	return out
}

func (r *ring[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
