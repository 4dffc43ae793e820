package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/hass"
	"github.com/nerrad567/gray-logic-hass/internal/history"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/mqtt"
)

// Publisher publishes retained MQTT messages at the client's QoS.
// *mqtt.Client implements it.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
}

// statePayload is the retained JSON document published per entity.
type statePayload struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

func newStatePayload(s *hass.EntityState) statePayload {
	attrs := s.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	return statePayload{
		EntityID:    s.EntityID,
		State:       s.State,
		Attributes:  attrs,
		LastChanged: s.LastChanged,
		LastUpdated: s.LastUpdated,
	}
}

// MQTTSink mirrors entity states to retained MQTT topics. A removed entity
// has its retained message cleared with an empty payload.
type MQTTSink struct {
	pub    Publisher
	topics mqtt.Topics
}

// NewMQTTSink creates a sink publishing through pub.
func NewMQTTSink(pub Publisher, topics mqtt.Topics) *MQTTSink {
	return &MQTTSink{pub: pub, topics: topics}
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Handle implements Sink.
func (s *MQTTSink) Handle(_ context.Context, change hass.StateChange) error {
	topic := s.topics.EntityState(change.EntityID)
	if change.New == nil {
		return s.pub.PublishRetained(topic, nil)
	}
	return s.publish(topic, change.New)
}

// Start publishes the current state of every cached entity so the mirror
// is complete before the first change arrives.
func (s *MQTTSink) Start(_ context.Context, env Env) error {
	var failed int
	var firstErr error
	for _, st := range env.Entities() {
		if err := s.publish(s.topics.EntityState(st.EntityID), &st); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return fmt.Errorf("publishing snapshot: %d entities failed: %w", failed, firstErr)
	}
	return nil
}

func (s *MQTTSink) publish(topic string, st *hass.EntityState) error {
	payload, err := json.Marshal(newStatePayload(st))
	if err != nil {
		return fmt.Errorf("marshalling state of %s: %w", st.EntityID, err)
	}
	return s.pub.PublishRetained(topic, payload)
}

// PointWriter writes numeric entity states. *influxdb.Client implements it.
type PointWriter interface {
	WriteEntityState(entityID, domain string, value float64, at time.Time)
}

// InfluxSink writes numeric states to InfluxDB. Binary states map on/off
// to 1/0; any other non-numeric state is skipped.
type InfluxSink struct {
	w PointWriter
}

// NewInfluxSink creates a sink writing through w.
func NewInfluxSink(w PointWriter) *InfluxSink {
	return &InfluxSink{w: w}
}

// Name implements Sink.
func (s *InfluxSink) Name() string { return "influxdb" }

// Handle implements Sink.
func (s *InfluxSink) Handle(_ context.Context, change hass.StateChange) error {
	if change.New == nil {
		return nil
	}
	value, ok := NumericState(change.New.State)
	if !ok {
		return nil
	}
	s.w.WriteEntityState(change.EntityID, hass.Domain(change.EntityID), value, change.New.LastUpdated)
	return nil
}

// NumericState converts a state string to a number.
//
// Returns:
//   - float64: The parsed value; on/open/home are 1 and off/closed/not_home are 0
//   - bool: false when the state has no numeric meaning
func NumericState(state string) (float64, bool) {
	switch strings.ToLower(state) {
	case "on", "open", "home", "true":
		return 1, true
	case "off", "closed", "not_home", "false":
		return 0, true
	case "", "unknown", "unavailable":
		return 0, false
	}
	v, err := strconv.ParseFloat(state, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// HistorySink records every change in the state history. When retention
// is positive, Start schedules an hourly prune.
type HistorySink struct {
	repo      history.Repository
	retention time.Duration
	logger    Logger
}

// NewHistorySink creates a sink recording into repo.
func NewHistorySink(repo history.Repository, retention time.Duration, logger Logger) *HistorySink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &HistorySink{repo: repo, retention: retention, logger: logger}
}

// Name implements Sink.
func (s *HistorySink) Name() string { return "history" }

// Handle implements Sink.
func (s *HistorySink) Handle(ctx context.Context, change hass.StateChange) error {
	c := history.Change{EntityID: change.EntityID}
	if change.New != nil {
		state := change.New.State
		c.State = &state
		c.Attributes = change.New.Attributes
		c.ChangedAt = change.New.LastUpdated
	}
	if err := s.repo.Record(ctx, c); err != nil {
		return fmt.Errorf("recording history: %w", err)
	}
	return nil
}

// Start implements Starter.
func (s *HistorySink) Start(_ context.Context, env Env) error {
	if s.retention <= 0 {
		return nil
	}
	env.Scheduler().RunEveryHour(s.Prune)
	return nil
}

// Prune deletes history older than the retention period.
func (s *HistorySink) Prune(ctx context.Context) error {
	n, err := s.repo.Prune(ctx, s.retention)
	if err != nil {
		return fmt.Errorf("pruning history: %w", err)
	}
	if n > 0 {
		s.logger.Info("pruned state history", "rows", n, "retention", s.retention)
	}
	return nil
}
