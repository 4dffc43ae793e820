package hass

import (
	"context"
	"fmt"
	"reflect"
)

// Automation is a routine that registers its listeners and tasks when the
// engine starts.
type Automation interface {
	Name() string
	Initialize(ctx context.Context, e *Engine) error
}

// AutomationFunc adapts a function to the Automation interface.
type AutomationFunc struct {
	AutomationName string
	Init           func(ctx context.Context, e *Engine) error
}

// Name implements Automation.
func (f AutomationFunc) Name() string { return f.AutomationName }

// Initialize implements Automation.
func (f AutomationFunc) Initialize(ctx context.Context, e *Engine) error {
	if f.Init == nil {
		return nil
	}
	return f.Init(ctx, e)
}

// RegisterStateListener calls fn for every state change of entityID.
// Short-lived listeners do not keep a ModeAutomatic engine running. Like
// any other listener they stay registered until the handle is removed.
func (e *Engine) RegisterStateListener(entityID string, fn StateListener, shortLived bool) *ListenerHandle {
	return e.listeners.addState(entityID, fn, shortLived)
}

// RegisterEventListener calls fn for every hub event of eventType.
// state_changed events reach both state listeners and event listeners.
func (e *Engine) RegisterEventListener(eventType string, fn EventListener) *ListenerHandle {
	return e.listeners.addEvent(eventType, fn)
}

// OnStateChanged calls fn when the state string of entityID changes.
// Attribute-only updates are skipped.
func (e *Engine) OnStateChanged(entityID string, fn StateListener) *ListenerHandle {
	return e.RegisterStateListener(entityID, func(ctx context.Context, c StateChange) error {
		if c.Old != nil && c.New != nil && c.Old.State == c.New.State {
			return nil
		}
		return fn(ctx, c)
	}, false)
}

// OnAttributeChanged calls fn when attribute attr of entityID changes value.
func (e *Engine) OnAttributeChanged(entityID, attr string, fn StateListener) *ListenerHandle {
	return e.RegisterStateListener(entityID, func(ctx context.Context, c StateChange) error {
		if reflect.DeepEqual(attribute(c.Old, attr), attribute(c.New, attr)) {
			return nil
		}
		return fn(ctx, c)
	}, false)
}

func attribute(s *EntityState, attr string) any {
	if s == nil {
		return nil
	}
	return s.Attributes[attr]
}

// WaitForState blocks until the state of entityID satisfies match, or ctx
// ends. The cached state is checked first.
func (e *Engine) WaitForState(ctx context.Context, entityID string, match func(state string) bool) (EntityState, error) {
	hit := make(chan EntityState, 1)
	handle := e.RegisterStateListener(entityID, func(_ context.Context, c StateChange) error {
		if c.New != nil && match(c.New.State) {
			select {
			case hit <- *c.New:
			default:
			}
		}
		return nil
	}, true)
	defer handle.Remove()

	if s, err := e.Entity(entityID); err == nil && match(s.State) {
		return s, nil
	}

	select {
	case s := <-hit:
		return s, nil
	case <-ctx.Done():
		return EntityState{}, fmt.Errorf("waiting for %s: %w", entityID, ctx.Err())
	}
}
