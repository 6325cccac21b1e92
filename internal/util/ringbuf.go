// internal/util/ringbuf.go

package util

import "sync"

// RingBuffer keeps the most recent samples up to a fixed capacity; a push
// into a full buffer evicts the oldest. Safe for concurrent use.
type RingBuffer[T any] struct {
	mu   sync.RWMutex
	buf  []T
	next int
	full bool
}

func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{buf: make([]T, capacity)}
}

func (r *RingBuffer[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = item
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// Snapshot returns the samples oldest first.
func (r *RingBuffer[T]) Snapshot() []T {
	return r.Select(nil)
}

// Select returns the samples accepted by keep, oldest first. A nil keep
// accepts everything.
func (r *RingBuffer[T]) Select(keep func(T) bool) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start, n := 0, r.next
	if r.full {
		start, n = r.next, len(r.buf)
	}
	out := make([]T, 0, n)
	for i := range n {
		v := r.buf[(start+i)%len(r.buf)]
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func (r *RingBuffer[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Reset drops every sample.
func (r *RingBuffer[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buf)
	r.next, r.full = 0, false
}
