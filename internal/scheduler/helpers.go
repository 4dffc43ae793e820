package scheduler

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// localEpoch anchors the RunEvery* helpers so that, for example, a
// per-minute task fires on whole minutes.
func localEpoch() time.Time {
	return time.Date(1970, time.January, 1, 0, 0, 0, 0, time.Local)
}

// RunEvery schedules cb every interval, aligned to anchor.
func (s *Scheduler) RunEvery(interval time.Duration, anchor time.Time, cb Callback) (Task, error) {
	t, err := NewRegularTask("", interval, anchor, cb)
	if err != nil {
		return nil, err
	}
	s.Schedule(t)
	return t, nil
}

// RunEverySecond schedules cb on every whole second.
func (s *Scheduler) RunEverySecond(cb Callback) Task { return s.mustEvery(time.Second, cb) }

// RunEveryMinute schedules cb on every whole minute.
func (s *Scheduler) RunEveryMinute(cb Callback) Task { return s.mustEvery(time.Minute, cb) }

// RunEveryHour schedules cb on every whole hour.
func (s *Scheduler) RunEveryHour(cb Callback) Task { return s.mustEvery(time.Hour, cb) }

// RunEveryDay schedules cb at local midnight.
func (s *Scheduler) RunEveryDay(cb Callback) Task {
	t, _ := s.RunEveryDayAt(0, cb) // 0 is always a valid time of day
	return t
}

// RunEveryWeek schedules cb at local midnight between Sunday and Monday.
func (s *Scheduler) RunEveryWeek(cb Callback) Task {
	t, _ := s.RunEveryWeekAt(time.Monday, 0, cb)
	return t
}

func (s *Scheduler) mustEvery(interval time.Duration, cb Callback) Task {
	t, err := NewRegularTask("", interval, localEpoch(), cb)
	if err != nil {
		panic(err) // interval is a positive constant
	}
	s.Schedule(t)
	return t
}

// RunEveryDayAt schedules cb daily at timeOfDay after local midnight.
// Wall-clock time is kept across DST changes.
func (s *Scheduler) RunEveryDayAt(timeOfDay time.Duration, cb Callback) (Task, error) {
	if err := checkTimeOfDay(timeOfDay); err != nil {
		return nil, err
	}
	t := NewIrregularTask("daily at "+formatTimeOfDay(timeOfDay), func() time.Time {
		return nextDailyAt(timeOfDay, time.Now())
	}, cb)
	s.Schedule(t)
	return t, nil
}

// RunEveryWeekAt schedules cb weekly on day at timeOfDay.
func (s *Scheduler) RunEveryWeekAt(day time.Weekday, timeOfDay time.Duration, cb Callback) (Task, error) {
	if err := checkTimeOfDay(timeOfDay); err != nil {
		return nil, err
	}
	t := NewIrregularTask("weekly on "+day.String()+" at "+formatTimeOfDay(timeOfDay), func() time.Time {
		return nextWeeklyAt(day, timeOfDay, time.Now())
	}, cb)
	s.Schedule(t)
	return t, nil
}

// RunIn schedules cb once, d from now.
func (s *Scheduler) RunIn(d time.Duration, cb Callback) Task {
	t := NewOneShotTask("in "+d.String(), time.Now().Add(d), cb)
	s.Schedule(t)
	return t
}

// RunAt schedules cb once at the given instant. An instant in the past
// fires immediately.
func (s *Scheduler) RunAt(at time.Time, cb Callback) Task {
	t := NewOneShotTask("at "+at.Format(time.RFC3339), at, cb)
	s.Schedule(t)
	return t
}

// RunAtFunc schedules cb at whatever instant computeNext returns. When
// subscribe is non-nil it is called with the task's Refresh function so the
// caller can re-arm the task when the inputs of computeNext change. The
// function subscribe returns, if any, is called when the task is cancelled.
func (s *Scheduler) RunAtFunc(name string, computeNext func() time.Time, subscribe func(refresh func()) (unsubscribe func()), cb Callback) *IrregularTask {
	t := NewIrregularTask(name, computeNext, cb)
	if subscribe != nil {
		t.release = subscribe(t.Refresh)
	}
	s.Schedule(t)
	return t
}

// RunCron schedules cb on every tick of a cron expression.
//
// Parameters:
//   - expr: standard 5-field cron expression (a 6th seconds field is accepted)
//   - cb: work to run on every tick
//
// Returns:
//   - Task: the scheduled task
//   - error: ErrInvalidCron if expr cannot be parsed
func (s *Scheduler) RunCron(expr string, cb Callback) (Task, error) {
	if !gronx.IsValid(expr) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCron, expr)
	}
	t := NewIrregularTask("cron "+expr, func() time.Time {
		next, err := gronx.NextTickAfter(expr, time.Now(), false)
		if err != nil {
			return time.Time{}
		}
		return next
	}, cb)
	s.Schedule(t)
	return t, nil
}

func checkTimeOfDay(d time.Duration) error {
	if d < 0 || d >= 24*time.Hour {
		return fmt.Errorf("%w: %s", ErrInvalidTimeOfDay, d)
	}
	return nil
}

func formatTimeOfDay(d time.Duration) string {
	return time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(d).Format("15:04:05")
}

// atTimeOfDay builds the wall-clock instant timeOfDay after midnight on the
// given date.
func atTimeOfDay(y int, m time.Month, day int, timeOfDay time.Duration, loc *time.Location) time.Time {
	h := int(timeOfDay / time.Hour)
	mi := int(timeOfDay % time.Hour / time.Minute)
	sec := int(timeOfDay % time.Minute / time.Second)
	ns := int(timeOfDay % time.Second)
	return time.Date(y, m, day, h, mi, sec, ns, loc)
}

func nextDailyAt(timeOfDay time.Duration, now time.Time) time.Time {
	y, m, d := now.Date()
	c := atTimeOfDay(y, m, d, timeOfDay, now.Location())
	if !c.After(now) {
		c = atTimeOfDay(y, m, d+1, timeOfDay, now.Location())
	}
	return c
}

func nextWeeklyAt(day time.Weekday, timeOfDay time.Duration, now time.Time) time.Time {
	y, m, d := now.Date()
	ahead := (int(day) - int(now.Weekday()) + 7) % 7
	c := atTimeOfDay(y, m, d+ahead, timeOfDay, now.Location())
	if !c.After(now) {
		c = atTimeOfDay(y, m, d+ahead+7, timeOfDay, now.Location())
	}
	return c
}
