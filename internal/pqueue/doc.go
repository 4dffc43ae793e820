// Package pqueue provides a generic min-heap priority queue.
//
// The queue knows nothing about what it stores: ordering comes from a
// caller-supplied less function, and elements that compare equal are
// returned in insertion order.
//
// # Complexity
//
//   - Peek: O(1)
//   - Insert, RemoveMin: O(log n)
//   - Remove (arbitrary element): O(n) scan followed by an O(log n) repair
//
// # Thread Safety
//
// Queue is NOT safe for concurrent use. Owners (such as the scheduler)
// guard every call with their own lock.
package pqueue
