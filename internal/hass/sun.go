package hass

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/scheduler"
)

// SunEntityID is the entity that publishes the sun's next events.
const SunEntityID = "sun.sun"

// SunEvent names a sun.sun attribute holding the next occurrence of an event.
type SunEvent string

const (
	SunRising   SunEvent = "next_rising"
	SunSetting  SunEvent = "next_setting"
	SunDawn     SunEvent = "next_dawn"
	SunDusk     SunEvent = "next_dusk"
	SunNoon     SunEvent = "next_noon"
	SunMidnight SunEvent = "next_midnight"
)

// RunEveryDayAtSun schedules cb daily at a sun event shifted by offset.
//
// The next instant is read from the sun.sun attribute for event. When the
// hub moves that attribute to the following day the task is re-armed, so
// the task keeps firing daily without drifting. Cancelling the task removes
// its sun.sun listener.
func (e *Engine) RunEveryDayAtSun(event SunEvent, offset time.Duration, cb scheduler.Callback) *scheduler.IrregularTask {
	name := string(event)
	if offset != 0 {
		name += " " + offset.String()
	}
	return e.sched.RunAtFunc(name, func() time.Time {
		return e.sunTime(event, offset)
	}, func(refresh func()) func() {
		h := e.OnAttributeChanged(SunEntityID, string(event), func(context.Context, StateChange) error {
			refresh()
			return nil
		})
		return h.Remove
	}, cb)
}

// RunEveryDayAtSunrise schedules cb at sunrise plus offset.
func (e *Engine) RunEveryDayAtSunrise(offset time.Duration, cb scheduler.Callback) *scheduler.IrregularTask {
	return e.RunEveryDayAtSun(SunRising, offset, cb)
}

// RunEveryDayAtSunset schedules cb at sunset plus offset.
func (e *Engine) RunEveryDayAtSunset(offset time.Duration, cb scheduler.Callback) *scheduler.IrregularTask {
	return e.RunEveryDayAtSun(SunSetting, offset, cb)
}

// RunEveryDayAtDawn schedules cb at dawn plus offset.
func (e *Engine) RunEveryDayAtDawn(offset time.Duration, cb scheduler.Callback) *scheduler.IrregularTask {
	return e.RunEveryDayAtSun(SunDawn, offset, cb)
}

// RunEveryDayAtDusk schedules cb at dusk plus offset.
func (e *Engine) RunEveryDayAtDusk(offset time.Duration, cb scheduler.Callback) *scheduler.IrregularTask {
	return e.RunEveryDayAtSun(SunDusk, offset, cb)
}

// RunEveryDayAtNoon schedules cb at solar noon plus offset.
func (e *Engine) RunEveryDayAtNoon(offset time.Duration, cb scheduler.Callback) *scheduler.IrregularTask {
	return e.RunEveryDayAtSun(SunNoon, offset, cb)
}

// RunEveryDayAtMidnight schedules cb at solar midnight plus offset.
func (e *Engine) RunEveryDayAtMidnight(offset time.Duration, cb scheduler.Callback) *scheduler.IrregularTask {
	return e.RunEveryDayAtSun(SunMidnight, offset, cb)
}

// sunTime reads the next occurrence of event from the cache. A missing or
// unparsable attribute yields the zero time, which leaves the task unarmed
// until the attribute appears.
func (e *Engine) sunTime(event SunEvent, offset time.Duration) time.Time {
	attrs, err := e.Attributes(SunEntityID)
	if err != nil {
		return time.Time{}
	}
	raw, ok := attrs[string(event)].(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		e.logger.Warn("unparsable sun attribute", "attribute", string(event), "value", raw)
		return time.Time{}
	}
	return t.Add(offset)
}
