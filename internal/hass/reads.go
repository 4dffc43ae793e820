package hass

import (
	"context"
	"fmt"
	"time"
)

// RefreshCache fetches every entity state and replaces the cache with the
// result in one swap.
func (e *Engine) RefreshCache(ctx context.Context) error {
	states, err := call[[]EntityState](ctx, e, newRequest(typeGetStates))
	if err != nil {
		return err
	}
	e.cache.replace(states, time.Now())
	e.loaded.Store(true)
	e.logger.Debug("entity cache refreshed", "entities", len(states))
	return nil
}

// checkCacheAge starts a background refresh when the cache is older than
// MaxCacheAge. At most one refresh runs at a time.
func (e *Engine) checkCacheAge() {
	age, ok := e.cache.age(time.Now())
	if !ok || age <= e.cfg.MaxCacheAge || !e.connected.Load() {
		return
	}
	if !e.refreshing.CompareAndSwap(false, true) {
		return
	}
	e.sup.Go("cache refresh", func(ctx context.Context) error {
		defer e.refreshing.Store(false)
		if err := e.RefreshCache(ctx); err != nil {
			e.logger.Warn("background cache refresh failed", "error", err)
		}
		return nil
	})
}

// Entity returns a copy of the cached state record of entityID.
// The cached value is returned even when a background refresh is started.
func (e *Engine) Entity(entityID string) (EntityState, error) {
	e.checkCacheAge()
	s, ok := e.cache.get(entityID)
	if !ok {
		return EntityState{}, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	return *s, nil
}

// State returns the cached state string of entityID.
func (e *Engine) State(entityID string) (string, error) {
	s, err := e.Entity(entityID)
	if err != nil {
		return "", err
	}
	return s.State, nil
}

// Attributes returns a copy of the cached attribute bag of entityID.
func (e *Engine) Attributes(entityID string) (map[string]any, error) {
	s, err := e.Entity(entityID)
	if err != nil {
		return nil, err
	}
	if s.Attributes == nil {
		return map[string]any{}, nil
	}
	return s.Attributes, nil
}

// Context returns the context of the last state of entityID.
func (e *Engine) Context(entityID string) (Context, error) {
	s, err := e.Entity(entityID)
	if err != nil {
		return Context{}, err
	}
	return s.Context, nil
}

// LastChanged returns when the state string of entityID last changed.
func (e *Engine) LastChanged(entityID string) (time.Time, error) {
	s, err := e.Entity(entityID)
	if err != nil {
		return time.Time{}, err
	}
	return s.LastChanged, nil
}

// LastUpdated returns when the state or attributes of entityID last changed.
func (e *Engine) LastUpdated(entityID string) (time.Time, error) {
	s, err := e.Entity(entityID)
	if err != nil {
		return time.Time{}, err
	}
	return s.LastUpdated, nil
}

// EntityIDs returns every cached entity ID in lexical order.
func (e *Engine) EntityIDs() []string {
	e.checkCacheAge()
	return e.cache.ids()
}

// Entities returns copies of every cached entity ordered by ID.
func (e *Engine) Entities() []EntityState {
	e.checkCacheAge()
	return e.cache.snapshot()
}

// EntityCount returns the number of cached entities.
func (e *Engine) EntityCount() int { return e.cache.len() }
