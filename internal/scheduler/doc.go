// Package scheduler runs repeating and one-shot tasks at their due time.
//
// A Scheduler owns a priority queue of tasks ordered by next execution
// instant and one background timer loop. The loop sleeps until the earliest
// task is due, fires it as a supervised unit of work, asks the task to compute
// its next instant and re-arms it. The loop exits when the queue drains and is
// restarted by the next Schedule call.
//
// Two task kinds exist:
//
//   - RegularTask fires every fixed interval, aligned to an anchor instant.
//   - IrregularTask asks a function for its next instant. Calling Refresh
//     (typically from a state listener) recomputes the instant and moves the
//     task in the queue.
//
// A task is never re-armed for an instant at or before the instant it last
// fired at. One-shot tasks (RunIn, RunAt) rely on this: their next instant
// never changes, so they fire exactly once.
//
// # Thread Safety
//
// All Scheduler methods are safe for concurrent use. Task callbacks run on
// their own goroutines and may call back into the Scheduler.
package scheduler
