package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/supervisor"
)

// firingLog records the order in which task callbacks run.
type firingLog struct {
	mu    sync.Mutex
	names []string
	ch    chan string
}

func newFiringLog() *firingLog {
	return &firingLog{ch: make(chan string, 64)}
}

func (l *firingLog) callback(name string) Callback {
	return func(context.Context) error {
		l.mu.Lock()
		l.names = append(l.names, name)
		l.mu.Unlock()
		l.ch <- name
		return nil
	}
}

func (l *firingLog) wait(t *testing.T, timeout time.Duration) string {
	t.Helper()
	select {
	case name := <-l.ch:
		return name
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a task to fire")
		return ""
	}
}

func (l *firingLog) expectNone(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case name := <-l.ch:
		t.Fatalf("unexpected firing of %q", name)
	case <-time.After(within):
	}
}

func TestScheduler_EarlierTaskFiresFirst(t *testing.T) {
	for _, order := range []string{"early-first", "late-first"} {
		t.Run(order, func(t *testing.T) {
			s := New()
			defer s.Close()
			log := newFiringLog()

			now := time.Now()
			early := NewOneShotTask("early", now.Add(50*time.Millisecond), log.callback("early"))
			late := NewOneShotTask("late", now.Add(100*time.Millisecond), log.callback("late"))

			if order == "early-first" {
				s.Schedule(early)
				s.Schedule(late)
			} else {
				s.Schedule(late)
				s.Schedule(early)
			}

			if got := log.wait(t, time.Second); got != "early" {
				t.Errorf("first firing = %q, want early", got)
			}
			if got := log.wait(t, time.Second); got != "late" {
				t.Errorf("second firing = %q, want late", got)
			}
		})
	}
}

func TestScheduler_HeadIsGlobalMinimum(t *testing.T) {
	s := New()
	defer s.Close()

	rng := rand.New(rand.NewPCG(3, 4))
	base := time.Now().Add(time.Hour)
	var live []Task

	check := func(step int) {
		t.Helper()
		var want Task
		for _, task := range live {
			if want == nil || task.NextExecution().Before(want.NextExecution()) {
				want = task
			}
		}
		got := s.head()
		if want == nil {
			if got != nil {
				t.Fatalf("step %d: head() = %v, want nil", step, got.Name())
			}
			return
		}
		if got == nil || !got.NextExecution().Equal(want.NextExecution()) {
			t.Fatalf("step %d: head() is not the earliest task", step)
		}
	}

	for i := 0; i < 300; i++ {
		switch {
		case len(live) == 0 || rng.IntN(3) > 0:
			at := base.Add(time.Duration(rng.IntN(10_000)) * time.Second)
			task := NewOneShotTask("t", at, nil)
			s.Schedule(task)
			live = append(live, task)
		default:
			idx := rng.IntN(len(live))
			if !s.Cancel(live[idx]) {
				t.Fatalf("step %d: Cancel() = false for queued task", i)
			}
			live = append(live[:idx], live[idx+1:]...)
		}
		check(i)
		if s.Size() != len(live) {
			t.Fatalf("step %d: Size() = %d, want %d", i, s.Size(), len(live))
		}
	}
}

func TestScheduler_RescheduleNeverRearmsFiredInstant(t *testing.T) {
	s := New()
	defer s.Close()

	at := time.Now().Add(time.Hour)
	task := NewOneShotTask("once", at, nil)
	task.markFired(at)

	s.Reschedule(task)
	if !s.IsEmpty() {
		t.Error("task re-armed for an instant equal to its last firing")
	}

	task.markFired(at.Add(time.Minute))
	s.Reschedule(task)
	if !s.IsEmpty() {
		t.Error("task re-armed for an instant before its last firing")
	}

	task.markFired(at.Add(-time.Minute))
	s.Reschedule(task)
	if s.Size() != 1 {
		t.Errorf("Size() = %d, want 1 when next is after last firing", s.Size())
	}
}

func TestScheduler_OneShotFiresOnce(t *testing.T) {
	s := New()
	defer s.Close()
	log := newFiringLog()

	task := s.RunIn(10*time.Millisecond, log.callback("once"))
	log.wait(t, time.Second)
	log.expectNone(t, 100*time.Millisecond)

	if !task.LastFiredAt().Equal(task.NextExecution()) {
		t.Errorf("LastFiredAt() = %v, want %v", task.LastFiredAt(), task.NextExecution())
	}
	if !s.IsEmpty() {
		t.Error("one-shot task still queued after firing")
	}
}

func TestScheduler_CancelPreventsFiring(t *testing.T) {
	s := New()
	defer s.Close()
	log := newFiringLog()

	task := s.RunIn(30*time.Millisecond, log.callback("cancelled"))
	if !s.Cancel(task) {
		t.Fatal("Cancel() = false for queued task")
	}
	if s.Cancel(task) {
		t.Error("second Cancel() = true, want false")
	}
	log.expectNone(t, 100*time.Millisecond)
}

func TestScheduler_RegularTaskRepeats(t *testing.T) {
	s := New()
	defer s.Close()
	log := newFiringLog()

	task, err := s.RunEvery(20*time.Millisecond, time.Now(), log.callback("tick"))
	if err != nil {
		t.Fatalf("RunEvery() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		log.wait(t, time.Second)
	}
	s.Cancel(task)

	// Drain a firing that may have been launched before Cancel.
	select {
	case <-log.ch:
	case <-time.After(50 * time.Millisecond):
	}
	log.expectNone(t, 100*time.Millisecond)
}

func TestScheduler_FailingTaskDoesNotStopLoop(t *testing.T) {
	var mu sync.Mutex
	var faults []supervisor.Fault
	sup := supervisor.New(context.Background(), supervisor.WithHandler(func(f supervisor.Fault) {
		mu.Lock()
		faults = append(faults, f)
		mu.Unlock()
	}))
	s := New(WithSupervisor(sup))
	defer s.Close()
	log := newFiringLog()

	s.RunIn(10*time.Millisecond, func(context.Context) error { panic("bad task") })
	s.RunIn(20*time.Millisecond, func(context.Context) error { return errors.New("also bad") })
	s.RunIn(40*time.Millisecond, log.callback("healthy"))

	if got := log.wait(t, time.Second); got != "healthy" {
		t.Errorf("firing = %q, want healthy", got)
	}
	sup.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(faults) != 2 {
		t.Errorf("got %d faults, want 2", len(faults))
	}
}

func TestScheduler_LoopRestartsAfterDraining(t *testing.T) {
	s := New()
	defer s.Close()
	log := newFiringLog()

	s.RunIn(5*time.Millisecond, log.callback("first"))
	log.wait(t, time.Second)

	deadline := time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if !running {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timer loop still running with an empty queue")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.RunIn(5*time.Millisecond, log.callback("second"))
	if got := log.wait(t, time.Second); got != "second" {
		t.Errorf("firing = %q, want second", got)
	}
}

func TestScheduler_EarlierScheduleInterruptsSleep(t *testing.T) {
	s := New()
	defer s.Close()
	log := newFiringLog()

	s.RunIn(time.Hour, log.callback("far"))
	time.Sleep(10 * time.Millisecond) // let the loop start sleeping
	s.RunIn(20*time.Millisecond, log.callback("near"))

	if got := log.wait(t, time.Second); got != "near" {
		t.Errorf("firing = %q, want near", got)
	}
}

func TestIrregularTask_RefreshMovesTask(t *testing.T) {
	s := New()
	defer s.Close()
	log := newFiringLog()

	var mu sync.Mutex
	next := time.Now().Add(time.Hour)
	compute := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return next
	}

	var refresh func()
	task := s.RunAtFunc("sun", compute, func(r func()) func() {
		refresh = r
		return nil
	}, log.callback("sun"))
	if refresh == nil {
		t.Fatal("subscribe was not called with a refresh function")
	}

	mu.Lock()
	next = time.Now().Add(20 * time.Millisecond)
	mu.Unlock()
	refresh()

	log.wait(t, time.Second)

	// The value did not change after firing, so the task stays disarmed.
	if !s.IsEmpty() {
		t.Error("task re-armed for the instant it already fired at")
	}

	mu.Lock()
	next = time.Now().Add(20 * time.Millisecond)
	mu.Unlock()
	task.Refresh()

	log.wait(t, time.Second)
}

func TestIrregularTask_RefreshAfterCancelDoesNotArm(t *testing.T) {
	s := New()
	defer s.Close()

	task := s.RunAtFunc("x", func() time.Time { return time.Now().Add(time.Hour) }, nil, nil)
	s.Cancel(task)
	task.Refresh()
	if !s.IsEmpty() {
		t.Error("Refresh re-armed a cancelled task")
	}
}

func TestRunAtFunc_CancelReleasesSubscription(t *testing.T) {
	s := New()
	defer s.Close()

	var released atomic.Int32
	task := s.RunAtFunc("x", func() time.Time { return time.Now().Add(time.Hour) }, func(func()) func() {
		return func() { released.Add(1) }
	}, nil)

	if got := released.Load(); got != 0 {
		t.Fatalf("released before cancel: %d", got)
	}
	s.Cancel(task)
	s.Cancel(task)
	if got := released.Load(); got != 1 {
		t.Errorf("release calls = %d, want 1", got)
	}
}

func TestNewRegularTask_Alignment(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		anchor   time.Time
		interval time.Duration
		want     time.Time
	}{
		{"anchor in past", now.Add(-90 * time.Minute), time.Hour, now.Add(-90 * time.Minute).Add(2 * time.Hour)},
		{"anchor in future", now.Add(150 * time.Minute), time.Hour, now.Add(30 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := NewRegularTask("", tt.interval, tt.anchor, nil)
			if err != nil {
				t.Fatalf("NewRegularTask() error = %v", err)
			}
			if got := task.NextExecution(); !got.Equal(tt.want) {
				t.Errorf("NextExecution() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := NewRegularTask("", 0, now, nil); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("NewRegularTask(0) error = %v, want ErrInvalidInterval", err)
	}
}

func TestRegularTask_UpdateSkipsMissedIntervals(t *testing.T) {
	task, err := NewRegularTask("", time.Minute, time.Now(), nil)
	if err != nil {
		t.Fatalf("NewRegularTask() error = %v", err)
	}
	stale := time.Now().Add(-10*time.Minute - 30*time.Second)
	task.setNext(stale)

	task.update()

	got := task.NextExecution()
	if !got.After(time.Now()) {
		t.Errorf("NextExecution() = %v, want a future instant", got)
	}
	if got.Sub(stale)%time.Minute != 0 {
		t.Errorf("NextExecution() %v is not a whole number of intervals after %v", got, stale)
	}
	if got.Sub(time.Now()) > time.Minute {
		t.Errorf("NextExecution() = %v, skipped too far ahead", got)
	}
}

func TestScheduler_RunCron(t *testing.T) {
	s := New()
	defer s.Close()

	if _, err := s.RunCron("not a cron", nil); !errors.Is(err, ErrInvalidCron) {
		t.Errorf("RunCron(invalid) error = %v, want ErrInvalidCron", err)
	}

	task, err := s.RunCron("0 3 * * *", nil)
	if err != nil {
		t.Fatalf("RunCron() error = %v", err)
	}
	next := task.NextExecution()
	if next.Hour() != 3 || next.Minute() != 0 {
		t.Errorf("NextExecution() = %v, want 03:00", next)
	}
	if !next.After(time.Now()) || next.Sub(time.Now()) > 25*time.Hour {
		t.Errorf("NextExecution() = %v, want within the next day", next)
	}
}

func TestNextDailyAndWeeklyAt(t *testing.T) {
	loc := time.UTC
	// Wednesday 2024-05-15 10:00 UTC.
	now := time.Date(2024, time.May, 15, 10, 0, 0, 0, loc)

	tests := []struct {
		name string
		got  time.Time
		want time.Time
	}{
		{"daily later today", nextDailyAt(18*time.Hour+30*time.Minute, now), time.Date(2024, 5, 15, 18, 30, 0, 0, loc)},
		{"daily already passed", nextDailyAt(9*time.Hour, now), time.Date(2024, 5, 16, 9, 0, 0, 0, loc)},
		{"daily exactly now", nextDailyAt(10*time.Hour, now), time.Date(2024, 5, 16, 10, 0, 0, 0, loc)},
		{"weekly friday", nextWeeklyAt(time.Friday, 8*time.Hour, now), time.Date(2024, 5, 17, 8, 0, 0, 0, loc)},
		{"weekly monday", nextWeeklyAt(time.Monday, 0, now), time.Date(2024, 5, 20, 0, 0, 0, 0, loc)},
		{"weekly today passed", nextWeeklyAt(time.Wednesday, 9*time.Hour, now), time.Date(2024, 5, 22, 9, 0, 0, 0, loc)},
		{"weekly today later", nextWeeklyAt(time.Wednesday, 11*time.Hour, now), time.Date(2024, 5, 15, 11, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.got.Equal(tt.want) {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	s := New()
	defer s.Close()
	if _, err := s.RunEveryDayAt(24*time.Hour, nil); !errors.Is(err, ErrInvalidTimeOfDay) {
		t.Errorf("RunEveryDayAt(24h) error = %v, want ErrInvalidTimeOfDay", err)
	}
}

func TestScheduler_TasksListing(t *testing.T) {
	s := New()
	defer s.Close()

	now := time.Now()
	s.Schedule(NewOneShotTask("b", now.Add(2*time.Hour), nil))
	s.Schedule(NewOneShotTask("a", now.Add(time.Hour), nil))

	tasks := s.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("Tasks() len = %d, want 2", len(tasks))
	}
	if tasks[0].Name != "a" || tasks[1].Name != "b" {
		t.Errorf("Tasks() order = [%s %s], want [a b]", tasks[0].Name, tasks[1].Name)
	}
	if tasks[0].Kind != KindIrregular {
		t.Errorf("Kind = %q, want %q", tasks[0].Kind, KindIrregular)
	}
}
