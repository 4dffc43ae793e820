package pqueue

import "errors"

// ErrEmpty is returned by Peek and RemoveMin when the queue holds no elements.
var ErrEmpty = errors.New("pqueue: queue is empty")
