package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hass/internal/supervisor"
)

func TestFaultNotifier(t *testing.T) {
	n := NewFaultNotifier(nil)
	at := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	f := supervisor.Fault{ID: "f-1", Unit: "relay", Err: errors.New("sink stuck"), At: at}

	// Nothing attached yet.
	n.Notify(f)

	pub := &fakePublisher{}
	n.Attach(pub, mqtt.Topics{Prefix: "gl"})
	n.Notify(f)

	raw, ok := pub.msgs["gl/fault"]
	if !ok {
		t.Fatalf("no fault notice, got %v", pub.msgs)
	}
	var doc faultPayload
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if doc.ID != "f-1" || doc.Unit != "relay" || doc.Error != "sink stuck" || doc.Panicked || !doc.At.Equal(at) {
		t.Errorf("payload = %+v", doc)
	}

	n.Notify(supervisor.Fault{ID: "f-2", Unit: "automation:x", Panic: "boom", Err: supervisor.ErrPanic})
	if err := json.Unmarshal(pub.msgs["gl/fault"], &doc); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if doc.ID != "f-2" || !doc.Panicked {
		t.Errorf("payload = %+v", doc)
	}
}

func TestFaultNotifier_FromSupervisor(t *testing.T) {
	pub := &fakePublisher{}
	n := NewFaultNotifier(nil)
	n.Attach(pub, mqtt.Topics{})

	sup := supervisor.New(t.Context(), supervisor.WithHandler(n.Notify))
	sup.Go("failing", func(_ context.Context) error { return errors.New("nope") })
	sup.Wait()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if _, ok := pub.msgs["graylogic/hass/fault"]; !ok {
		t.Errorf("fault not published, got %v", pub.msgs)
	}
}
