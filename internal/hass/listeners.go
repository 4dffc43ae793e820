package hass

import (
	"context"
	"sync"
)

// StateListener is called with every state change of the entity it is
// registered for.
type StateListener func(ctx context.Context, change StateChange) error

// EventListener is called with every hub event of the type it is
// registered for.
type EventListener func(ctx context.Context, event Event) error

// ListenerHandle removes a registered listener.
type ListenerHandle struct {
	once   sync.Once
	remove func()
}

// Remove unregisters the listener. It is safe to call more than once.
func (h *ListenerHandle) Remove() {
	if h == nil {
		return
	}
	h.once.Do(h.remove)
}

type stateEntry struct {
	fn         StateListener
	shortLived bool
}

// listenerRegistry stores state and event listeners keyed by entity ID and
// event type.
type listenerRegistry struct {
	mu     sync.RWMutex
	nextID uint64
	state  map[string]map[uint64]stateEntry
	events map[string]map[uint64]EventListener
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{
		state:  make(map[string]map[uint64]stateEntry),
		events: make(map[string]map[uint64]EventListener),
	}
}

func (r *listenerRegistry) addState(entityID string, fn StateListener, shortLived bool) *ListenerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	set, ok := r.state[entityID]
	if !ok {
		set = make(map[uint64]stateEntry)
		r.state[entityID] = set
	}
	set[id] = stateEntry{fn: fn, shortLived: shortLived}

	return &ListenerHandle{remove: func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if set, ok := r.state[entityID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.state, entityID)
			}
		}
	}}
}

func (r *listenerRegistry) addEvent(eventType string, fn EventListener) *ListenerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	set, ok := r.events[eventType]
	if !ok {
		set = make(map[uint64]EventListener)
		r.events[eventType] = set
	}
	set[id] = fn

	return &ListenerHandle{remove: func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if set, ok := r.events[eventType]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.events, eventType)
			}
		}
	}}
}

// stateListeners returns the listeners for entityID at this instant.
func (r *listenerRegistry) stateListeners(entityID string) []StateListener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.state[entityID]
	out := make([]StateListener, 0, len(set))
	for _, e := range set {
		out = append(out, e.fn)
	}
	return out
}

// eventListeners returns the listeners for eventType at this instant.
func (r *listenerRegistry) eventListeners(eventType string) []EventListener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.events[eventType]
	out := make([]EventListener, 0, len(set))
	for _, fn := range set {
		out = append(out, fn)
	}
	return out
}

// hasLive reports whether any listener other than a short-lived one is
// registered.
func (r *listenerRegistry) hasLive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.events) > 0 {
		return true
	}
	for _, set := range r.state {
		for _, e := range set {
			if !e.shortLived {
				return true
			}
		}
	}
	return false
}

// counts returns the number of state and event listeners.
func (r *listenerRegistry) counts() (state, events int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, set := range r.state {
		state += len(set)
	}
	for _, set := range r.events {
		events += len(set)
	}
	return state, events
}
