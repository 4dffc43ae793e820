package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/hass"
	"github.com/nerrad567/gray-logic-hass/internal/scheduler"
)

// Logger defines the logging interface used by the relay.
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

// Sink receives every forwarded state change.
type Sink interface {
	Name() string
	Handle(ctx context.Context, change hass.StateChange) error
}

// Env is the part of the engine a Starter may use.
type Env interface {
	Scheduler() *scheduler.Scheduler
	Entities() []hass.EntityState
}

// Starter is implemented by sinks that need setup once the engine has its
// initial states, such as publishing a snapshot or scheduling maintenance.
type Starter interface {
	Start(ctx context.Context, env Env) error
}

// EventRegistrar registers generic event listeners. *hass.Engine
// implements it.
type EventRegistrar interface {
	RegisterEventListener(eventType string, fn hass.EventListener) *hass.ListenerHandle
}

// Stats counts what the relay has done since it was created.
type Stats struct {
	Forwarded  uint64 `json:"forwarded"`
	Stale      uint64 `json:"stale"`
	SinkErrors uint64 `json:"sink_errors"`
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// Relay forwards state_changed events from the engine to its sinks.
//
// Event listeners run concurrently, so two changes of one entity can
// arrive out of order. The relay forwards one change at a time and drops a
// change whose new state is older than the last one forwarded for that
// entity.
type Relay struct {
	sinks  []Sink
	logger Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time

	handleMu sync.Mutex
	handle   *hass.ListenerHandle

	forwarded  atomic.Uint64
	stale      atomic.Uint64
	sinkErrors atomic.Uint64
}

// New creates a relay for sinks. Nil sinks are skipped.
func New(sinks []Sink, opts ...Option) *Relay {
	r := &Relay{
		logger:   noopLogger{},
		lastSeen: make(map[string]time.Time),
	}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name implements hass.Automation.
func (r *Relay) Name() string { return "relay" }

// Initialize implements hass.Automation: it attaches the relay to e and
// starts every sink that needs it.
func (r *Relay) Initialize(ctx context.Context, e *hass.Engine) error {
	r.Attach(e)
	return r.start(ctx, e)
}

func (r *Relay) start(ctx context.Context, env Env) error {
	var errs []error
	for _, s := range r.sinks {
		starter, ok := s.(Starter)
		if !ok {
			continue
		}
		if err := starter.Start(ctx, env); err != nil {
			r.logger.Error("relay sink failed to start", "sink", s.Name(), "error", err)
			errs = append(errs, fmt.Errorf("starting sink %s: %w", s.Name(), err))
		}
	}
	r.logger.Info("relay attached", "sinks", len(r.sinks))
	return errors.Join(errs...)
}

// Attach registers the relay's state_changed listener on reg. Attaching
// again replaces the previous registration.
func (r *Relay) Attach(reg EventRegistrar) {
	h := reg.RegisterEventListener(hass.EventStateChanged, r.HandleEvent)

	r.handleMu.Lock()
	old := r.handle
	r.handle = h
	r.handleMu.Unlock()

	if old != nil {
		old.Remove()
	}
}

// Detach removes the listener registered by Attach.
func (r *Relay) Detach() {
	r.handleMu.Lock()
	h := r.handle
	r.handle = nil
	r.handleMu.Unlock()

	if h != nil {
		h.Remove()
	}
}

// HandleEvent is the hass.EventListener the relay registers. Malformed
// events and sink failures are logged, never returned.
func (r *Relay) HandleEvent(ctx context.Context, ev hass.Event) error {
	var change hass.StateChange
	if err := json.Unmarshal(ev.Data, &change); err != nil {
		r.logger.Warn("relay discarding malformed state_changed event", "error", err)
		return nil
	}
	r.Forward(ctx, change)
	return nil
}

// Forward sends change to every sink unless it is stale.
func (r *Relay) Forward(ctx context.Context, change hass.StateChange) {
	if change.EntityID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if change.New != nil {
		at := change.New.LastUpdated
		if last, ok := r.lastSeen[change.EntityID]; ok && at.Before(last) {
			r.stale.Add(1)
			r.logger.Debug("relay dropping stale state change",
				"entity_id", change.EntityID,
				"last_updated", at,
				"last_forwarded", last,
			)
			return
		}
		r.lastSeen[change.EntityID] = at
	} else {
		delete(r.lastSeen, change.EntityID)
	}

	for _, s := range r.sinks {
		if err := s.Handle(ctx, change); err != nil {
			r.sinkErrors.Add(1)
			r.logger.Error("relay sink failed",
				"sink", s.Name(),
				"entity_id", change.EntityID,
				"error", err,
			)
		}
	}
	r.forwarded.Add(1)
}

// Stats returns the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Forwarded:  r.forwarded.Load(),
		Stale:      r.stale.Load(),
		SinkErrors: r.sinkErrors.Load(),
	}
}

// Sinks returns the names of the configured sinks.
func (r *Relay) Sinks() []string {
	names := make([]string, len(r.sinks))
	for i, s := range r.sinks {
		names[i] = s.Name()
	}
	return names
}
