package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Callback is the work a task performs when it fires.
type Callback func(ctx context.Context) error

// Kind distinguishes task implementations in listings.
type Kind string

const (
	KindRegular   Kind = "regular"
	KindIrregular Kind = "irregular"
)

// Task is a unit of work with a next execution instant.
//
// Tasks are created with NewRegularTask, NewIrregularTask or one of the
// Scheduler helpers; the interface is sealed.
type Task interface {
	// Name identifies the task in logs and listings.
	Name() string

	// Kind reports the task implementation.
	Kind() Kind

	// NextExecution returns the instant the task is due next.
	// A zero time means the task has no further execution.
	NextExecution() time.Time

	// LastFiredAt returns the scheduled instant of the most recent firing,
	// or the zero time if the task has never fired.
	LastFiredAt() time.Time

	// Execute runs the callback once.
	Execute(ctx context.Context) error

	state() *taskState
	update()
}

// taskState holds the fields shared by every task kind.
type taskState struct {
	name     string
	callback Callback

	mu        sync.Mutex
	next      time.Time
	lastFired time.Time
	owner     *Scheduler
	release   func()

	// active is guarded by the owning scheduler's mutex. It is true between
	// Schedule and Cancel and gates re-arming after a firing or a refresh.
	active bool
}

func (s *taskState) Name() string { return s.name }

func (s *taskState) NextExecution() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func (s *taskState) LastFiredAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFired
}

func (s *taskState) Execute(ctx context.Context) error {
	if s.callback == nil {
		return nil
	}
	return s.callback(ctx)
}

func (s *taskState) state() *taskState { return s }

func (s *taskState) setNext(t time.Time) {
	s.mu.Lock()
	s.next = t
	s.mu.Unlock()
}

// markFired records the instant the task was due at when it fired.
func (s *taskState) markFired(at time.Time) {
	s.mu.Lock()
	s.lastFired = at
	s.mu.Unlock()
}

// rearmable reports whether next lies strictly after the last firing.
func (s *taskState) rearmable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.next.IsZero() && s.next.After(s.lastFired)
}

func (s *taskState) setOwner(o *Scheduler) {
	s.mu.Lock()
	s.owner = o
	s.mu.Unlock()
}

// takeRelease returns the release hook once and clears it.
func (s *taskState) takeRelease() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn := s.release
	s.release = nil
	return fn
}

func (s *taskState) getOwner() *Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// RegularTask fires every interval, on instants anchor + k*interval.
type RegularTask struct {
	taskState
	interval time.Duration
	anchor   time.Time
}

// NewRegularTask creates a task that fires on every instant
// anchor + k*interval. The first execution is the earliest such instant
// strictly after now, so anchor may lie in the past or the future.
//
// Returns ErrInvalidInterval if interval is not positive.
func NewRegularTask(name string, interval time.Duration, anchor time.Time, cb Callback) (*RegularTask, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	if name == "" {
		name = "every " + interval.String()
	}
	t := &RegularTask{
		taskState: taskState{name: name, callback: cb},
		interval:  interval,
		anchor:    anchor,
	}
	t.next = nextAligned(anchor, interval, time.Now())
	return t, nil
}

// Kind implements Task.
func (t *RegularTask) Kind() Kind { return KindRegular }

// Interval returns the fixed firing interval.
func (t *RegularTask) Interval() time.Duration { return t.interval }

// Anchor returns the alignment instant.
func (t *RegularTask) Anchor() time.Time { return t.anchor }

// update advances next by whole intervals until it lies in the future.
func (t *RegularTask) update() {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.next.After(now) {
		return
	}
	t.next = nextAligned(t.next, t.interval, now)
}

// nextAligned returns the earliest base + k*interval (k any integer) that is
// strictly after now.
func nextAligned(base time.Time, interval time.Duration, now time.Time) time.Time {
	d := now.Sub(base)
	k := d / interval
	if d < 0 && d%interval != 0 {
		k--
	}
	return base.Add((k + 1) * interval)
}

// IrregularTask fires at whatever instant computeNext returns.
type IrregularTask struct {
	taskState
	computeNext func() time.Time
}

// NewIrregularTask creates a task whose next instant is computeNext().
// computeNext is evaluated once here, after every firing, and on Refresh.
// Returning the zero time means "no next execution".
func NewIrregularTask(name string, computeNext func() time.Time, cb Callback) *IrregularTask {
	t := &IrregularTask{
		taskState:   taskState{name: name, callback: cb},
		computeNext: computeNext,
	}
	t.next = computeNext()
	return t
}

// NewOneShotTask creates a task that fires once at the given instant.
func NewOneShotTask(name string, at time.Time, cb Callback) *IrregularTask {
	return NewIrregularTask(name, func() time.Time { return at }, cb)
}

// Kind implements Task.
func (t *IrregularTask) Kind() Kind { return KindIrregular }

func (t *IrregularTask) update() {
	t.setNext(t.computeNext())
}

// Refresh recomputes the next instant and, if the task is scheduled, moves
// it in the queue. Wire it to whatever signal changes computeNext's answer.
func (t *IrregularTask) Refresh() {
	next := t.computeNext()
	if owner := t.getOwner(); owner != nil {
		owner.move(t, next)
		return
	}
	t.setNext(next)
}
