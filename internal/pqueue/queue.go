package pqueue

import "container/heap"

// entry pairs a stored value with its insertion sequence number.
// The sequence number breaks ties so that equal keys pop in FIFO order.
type entry[T comparable] struct {
	value T
	seq   uint64
}

// entries implements container/heap.Interface over the backing array.
type entries[T comparable] struct {
	items []entry[T]
	less  func(a, b T) bool
}

func (h *entries[T]) Len() int { return len(h.items) }

func (h *entries[T]) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if h.less(a.value, b.value) {
		return true
	}
	if h.less(b.value, a.value) {
		return false
	}
	return a.seq < b.seq
}

func (h *entries[T]) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *entries[T]) Push(x any) {
	h.items = append(h.items, x.(entry[T])) //nolint:forcetypeassert // only entry[T] is ever pushed
}

func (h *entries[T]) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	var zero entry[T]
	old[n-1] = zero // release the reference held by the backing array
	h.items = old[:n-1]
	return x
}

// Queue is a binary min-heap ordered by a less function.
//
// The zero value is not usable; create queues with New.
type Queue[T comparable] struct {
	h       entries[T]
	nextSeq uint64
}

// New creates an empty queue ordered by less.
//
// less must define a strict weak ordering: less(a, b) reports whether a
// should leave the queue before b.
func New[T comparable](less func(a, b T) bool) *Queue[T] {
	return &Queue[T]{h: entries[T]{less: less}}
}

// Peek returns the minimum element without removing it.
// Returns ErrEmpty if the queue is empty.
func (q *Queue[T]) Peek() (T, error) {
	if len(q.h.items) == 0 {
		var zero T
		return zero, ErrEmpty
	}
	return q.h.items[0].value, nil
}

// Insert adds an element to the queue.
func (q *Queue[T]) Insert(v T) {
	heap.Push(&q.h, entry[T]{value: v, seq: q.nextSeq})
	q.nextSeq++
}

// RemoveMin removes and returns the minimum element.
// Returns ErrEmpty if the queue is empty.
func (q *Queue[T]) RemoveMin() (T, error) {
	if len(q.h.items) == 0 {
		var zero T
		return zero, ErrEmpty
	}
	e := heap.Pop(&q.h).(entry[T]) //nolint:forcetypeassert // Pop always yields entry[T]
	return e.value, nil
}

// Remove deletes the first occurrence of v from the queue.
// It reports whether v was present.
func (q *Queue[T]) Remove(v T) bool {
	for i := range q.h.items {
		if q.h.items[i].value == v {
			heap.Remove(&q.h, i)
			return true
		}
	}
	return false
}

// Contains reports whether v is currently queued.
func (q *Queue[T]) Contains(v T) bool {
	for i := range q.h.items {
		if q.h.items[i].value == v {
			return true
		}
	}
	return false
}

// Size returns the number of queued elements.
func (q *Queue[T]) Size() int { return len(q.h.items) }

// IsEmpty reports whether the queue holds no elements.
func (q *Queue[T]) IsEmpty() bool { return len(q.h.items) == 0 }

// Items returns a snapshot of the queued elements in heap (not sorted) order.
func (q *Queue[T]) Items() []T {
	out := make([]T, len(q.h.items))
	for i, e := range q.h.items {
		out[i] = e.value
	}
	return out
}

// Clear removes every element.
func (q *Queue[T]) Clear() {
	q.h.items = nil
}
