package scheduler

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/pqueue"
	"github.com/nerrad567/gray-logic-hass/internal/supervisor"
)

// Logger defines the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSupervisor runs task callbacks as units of sup.
func WithSupervisor(sup *supervisor.Supervisor) Option {
	return func(s *Scheduler) { s.sup = sup }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// TaskInfo is a point-in-time view of a scheduled task.
type TaskInfo struct {
	Name          string    `json:"name"`
	Kind          Kind      `json:"kind"`
	NextExecution time.Time `json:"next_execution"`
	LastFiredAt   time.Time `json:"last_fired_at,omitzero"`
}

// Scheduler fires tasks at their next execution instant.
type Scheduler struct {
	mu      sync.Mutex
	queue   *pqueue.Queue[Task]
	running bool
	closed  bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	sup    *supervisor.Supervisor
	logger Logger
	fired  atomic.Uint64
}

// New creates an idle scheduler. The timer loop starts with the first
// Schedule call.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		queue: pqueue.New(func(a, b Task) bool {
			return a.NextExecution().Before(b.NextExecution())
		}),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sup == nil {
		s.sup = supervisor.New(context.Background(), supervisor.WithLogger(s.logger))
	}
	return s
}

// Schedule adds t to the queue. A task that is already queued keeps a single
// entry. Tasks without a next execution are remembered as active so a later
// Refresh can arm them.
func (s *Scheduler) Schedule(t Task) {
	st := t.state()
	st.setOwner(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	st.active = true
	s.queue.Remove(t)
	s.armLocked(t, false)
}

// Cancel removes t from the queue and stops it from being re-armed. An
// in-flight firing is not interrupted. A subscription made through
// RunAtFunc is released. It reports whether t was queued.
func (s *Scheduler) Cancel(t Task) bool {
	st := t.state()

	s.mu.Lock()
	st.active = false
	head, _ := s.queue.Peek()
	removed := s.queue.Remove(t)
	if removed && head == t {
		s.kickLocked()
	}
	s.mu.Unlock()

	if release := st.takeRelease(); release != nil {
		release()
	}
	return removed
}

// Reschedule cancels t and schedules it again, but only if its next
// execution lies strictly after the instant it last fired at.
func (s *Scheduler) Reschedule(t Task) {
	st := t.state()
	st.setOwner(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	st.active = true
	s.queue.Remove(t)
	s.armLocked(t, true)
}

// Size returns the number of queued tasks.
func (s *Scheduler) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Size()
}

// IsEmpty reports whether no task is queued.
func (s *Scheduler) IsEmpty() bool {
	return s.Size() == 0
}

// Fired returns how many firings the scheduler has launched.
func (s *Scheduler) Fired() uint64 { return s.fired.Load() }

// Tasks returns the queued tasks ordered by next execution.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	items := s.queue.Items()
	s.mu.Unlock()

	out := make([]TaskInfo, 0, len(items))
	for _, t := range items {
		out = append(out, TaskInfo{
			Name:          t.Name(),
			Kind:          t.Kind(),
			NextExecution: t.NextExecution(),
			LastFiredAt:   t.LastFiredAt(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NextExecution.Before(out[j].NextExecution)
	})
	return out
}

// Close stops the timer loop and drops every queued task.
// Tasks already firing run to completion.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue.Clear()
		s.mu.Unlock()
		close(s.done)
	})
}

// head returns the earliest queued task, or nil.
func (s *Scheduler) head() Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, _ := s.queue.Peek()
	return t
}

// armLocked inserts t when it has a next execution (and, when guarded, one
// strictly after its last firing). Callers hold s.mu.
func (s *Scheduler) armLocked(t Task, guarded bool) {
	st := t.state()
	if guarded {
		if !st.rearmable() {
			return
		}
	} else if t.NextExecution().IsZero() {
		return
	}

	s.queue.Insert(t)
	if head, _ := s.queue.Peek(); head == t {
		s.kickLocked()
	}
}

// kickLocked starts the timer loop or interrupts its current sleep.
func (s *Scheduler) kickLocked() {
	if !s.running {
		s.running = true
		go s.loop()
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// move changes the next execution of t and repositions it. Used by
// IrregularTask.Refresh.
func (s *Scheduler) move(t Task, next time.Time) {
	st := t.state()

	s.mu.Lock()
	defer s.mu.Unlock()

	head, _ := s.queue.Peek()
	s.queue.Remove(t)
	st.setNext(next)
	if st.active && !s.closed {
		s.armLocked(t, true)
	}
	if head == t {
		s.kickLocked()
	}
}

// rearm re-queues t after it fired, unless it was cancelled meanwhile.
func (s *Scheduler) rearm(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !t.state().active {
		return
	}
	s.queue.Remove(t)
	s.armLocked(t, true)
}

func (s *Scheduler) loop() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		s.mu.Lock()
		head, err := s.queue.Peek()
		if err != nil || s.closed {
			s.running = false
			s.mu.Unlock()
			return
		}
		due := head.NextExecution()
		s.mu.Unlock()

		if wait := time.Until(due); wait > 0 {
			timer.Reset(wait)
			select {
			case <-timer.C:
			case <-s.wake:
				timer.Stop()
				continue
			case <-s.done:
				s.mu.Lock()
				s.running = false
				s.mu.Unlock()
				return
			}
		}

		// The head may have been cancelled or moved while we slept.
		s.mu.Lock()
		cur, err := s.queue.Peek()
		if err != nil || cur != head {
			s.mu.Unlock()
			continue
		}
		if due = cur.NextExecution(); due.After(time.Now()) {
			s.mu.Unlock()
			continue
		}
		_, _ = s.queue.RemoveMin()
		s.mu.Unlock()

		s.fire(head, due)
	}
}

func (s *Scheduler) fire(t Task, at time.Time) {
	s.fired.Add(1)
	s.logger.Debug("task fired", "task", t.Name(), "due", at)

	s.sup.Go("task:"+t.Name(), t.Execute)

	t.state().markFired(at)
	t.update()
	s.rearm(t)
}
