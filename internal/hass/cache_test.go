package hass

import (
	"errors"
	"testing"
	"time"
)

func TestEntityCache_StateChanged(t *testing.T) {
	c := newEntityCache()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	s := EntityState{
		EntityID:    "light.kitchen",
		State:       "off",
		Attributes:  map[string]any{"brightness": 0.0},
		LastChanged: base,
		LastUpdated: base,
		Context:     Context{ID: "first"},
	}

	t.Run("null old state inserts", func(t *testing.T) {
		c.apply(&StateChange{EntityID: "light.kitchen", Old: nil, New: &s})
		got, ok := c.get("light.kitchen")
		if !ok {
			t.Fatal("entity not inserted")
		}
		if got.State != "off" {
			t.Errorf("State = %q, want off", got.State)
		}
	})

	t.Run("both states replace state and attributes in place", func(t *testing.T) {
		newer := s
		newer.State = "on"
		newer.Attributes = map[string]any{"brightness": 255.0}
		newer.LastChanged = base.Add(time.Hour)
		newer.Context = Context{ID: "second"}

		c.apply(&StateChange{EntityID: "light.kitchen", Old: &s, New: &newer})
		got, _ := c.get("light.kitchen")
		if got.State != "on" {
			t.Errorf("State = %q, want on", got.State)
		}
		if got.Attributes["brightness"] != 255.0 {
			t.Errorf("brightness = %v, want 255", got.Attributes["brightness"])
		}
		if !got.LastChanged.Equal(base) {
			t.Errorf("LastChanged = %v, want untouched %v", got.LastChanged, base)
		}
		if got.Context.ID != "first" {
			t.Errorf("Context.ID = %q, want untouched first", got.Context.ID)
		}
	})

	t.Run("null new state removes", func(t *testing.T) {
		c.apply(&StateChange{EntityID: "light.kitchen", Old: &s, New: nil})
		if _, ok := c.get("light.kitchen"); ok {
			t.Error("entity still cached after removal")
		}
	})
}

func TestEntityCache_ReadsAreCopies(t *testing.T) {
	c := newEntityCache()
	c.replace([]EntityState{{
		EntityID:   "sensor.t",
		State:      "20",
		Attributes: map[string]any{"nested": map[string]any{"a": 1.0}, "list": []any{1.0}},
	}}, time.Now())

	got, _ := c.get("sensor.t")
	got.Attributes["nested"].(map[string]any)["a"] = 99.0
	got.Attributes["list"].([]any)[0] = 99.0
	got.State = "mutated"

	again, _ := c.get("sensor.t")
	if again.State != "20" {
		t.Errorf("State = %q, cache was mutated through a read", again.State)
	}
	if again.Attributes["nested"].(map[string]any)["a"] != 1.0 {
		t.Error("nested attribute mutated through a read")
	}
	if again.Attributes["list"].([]any)[0] != 1.0 {
		t.Error("list attribute mutated through a read")
	}
}

func TestEntityCache_ReplaceIsWholesale(t *testing.T) {
	c := newEntityCache()
	c.replace([]EntityState{{EntityID: "light.old"}, {EntityID: "light.both", State: "off"}}, time.Now())
	c.replace([]EntityState{{EntityID: "light.both", State: "on"}, {EntityID: "light.new"}}, time.Now())

	ids := c.ids()
	if len(ids) != 2 || ids[0] != "light.both" || ids[1] != "light.new" {
		t.Errorf("ids() = %v, want [light.both light.new]", ids)
	}
	if s, _ := c.get("light.both"); s.State != "on" {
		t.Errorf("light.both state = %q, want on", s.State)
	}
}

func TestEntityCache_Age(t *testing.T) {
	c := newEntityCache()
	if _, ok := c.age(time.Now()); ok {
		t.Error("age() reported a refresh on an empty cache")
	}
	at := time.Now().Add(-20 * time.Minute)
	c.replace(nil, at)
	age, ok := c.age(time.Now())
	if !ok || age < 20*time.Minute {
		t.Errorf("age() = %v, %v; want >= 20m, true", age, ok)
	}
}

func TestDomain(t *testing.T) {
	tests := map[string]string{
		"light.kitchen":   "light",
		"sun.sun":         "sun",
		"binary_sensor.x": "binary_sensor",
		"nodot":           "nodot",
	}
	for id, want := range tests {
		if got := Domain(id); got != want {
			t.Errorf("Domain(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestEngine_ResolveExactlyOnce(t *testing.T) {
	e, err := New(Config{Host: "localhost", AccessToken: "t"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer e.Close()

	ch := make(chan reply, 1)
	e.pending[7] = ch

	if !e.resolve(7, reply{env: &envelope{ID: 7, Type: typeResult, Success: true}}) {
		t.Fatal("first resolve() = false, want true")
	}
	if e.resolve(7, reply{env: &envelope{ID: 7, Type: typeResult}}) {
		t.Error("second resolve() = true, want false")
	}
	r := <-ch
	if r.env == nil || !r.env.Success {
		t.Errorf("delivered reply = %+v, want the first one", r)
	}
	select {
	case extra := <-ch:
		t.Errorf("second reply delivered: %+v", extra)
	default:
	}
}

func TestEngine_FailPending(t *testing.T) {
	e, err := New(Config{Host: "localhost", AccessToken: "t"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer e.Close()

	a, b := make(chan reply, 1), make(chan reply, 1)
	e.pending[1] = a
	e.pending[2] = b
	e.failPending(ErrConnectionLost)

	for _, ch := range []chan reply{a, b} {
		r := <-ch
		if !errors.Is(r.err, ErrConnectionLost) {
			t.Errorf("reply error = %v, want ErrConnectionLost", r.err)
		}
	}
	if e.pendingCount() != 0 {
		t.Errorf("pendingCount() = %d, want 0", e.pendingCount())
	}
}
