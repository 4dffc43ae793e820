package hass

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// entityCache mirrors the hub's entity states.
//
// A full refresh builds a new map and swaps it in under the write lock, so
// readers see either the old snapshot or the new one and never a mix.
// Incremental state_changed updates mutate the current map under the same
// lock. Reads hand out deep copies.
type entityCache struct {
	mu          sync.RWMutex
	entities    map[string]*EntityState
	refreshedAt time.Time
}

func newEntityCache() *entityCache {
	return &entityCache{entities: make(map[string]*EntityState)}
}

// replace swaps in a cache built from a full state listing.
func (c *entityCache) replace(states []EntityState, at time.Time) {
	fresh := make(map[string]*EntityState, len(states))
	for i := range states {
		s := states[i]
		fresh[s.EntityID] = &s
	}

	c.mu.Lock()
	c.entities = fresh
	c.refreshedAt = at
	c.mu.Unlock()
}

// apply folds a state_changed event into the cache.
//
// A nil new state removes the entity. A nil old state (or an entity the
// cache has never seen) inserts the new state. Otherwise only the state
// string and attributes of the cached entry are replaced.
func (c *entityCache) apply(ch *StateChange) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := ch.EntityID
	if ch.New == nil {
		delete(c.entities, id)
		return
	}

	existing, ok := c.entities[id]
	if ch.Old == nil || !ok {
		fresh := ch.New.clone()
		if fresh.EntityID == "" {
			fresh.EntityID = id
		}
		c.entities[id] = fresh
		return
	}

	existing.State = ch.New.State
	existing.Attributes = cloneMap(ch.New.Attributes)
}

// get returns a copy of the cached entity.
func (c *entityCache) get(id string) (*EntityState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entities[id]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// ids returns the cached entity IDs in lexical order.
func (c *entityCache) ids() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.entities))
	for id := range c.entities {
		out = append(out, id)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// snapshot returns copies of every cached entity ordered by ID.
func (c *entityCache) snapshot() []EntityState {
	c.mu.RLock()
	out := make([]EntityState, 0, len(c.entities))
	for _, s := range c.entities {
		out = append(out, *s.clone())
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

func (c *entityCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities)
}

// age reports how long ago the last full refresh completed, and whether
// one ever did.
func (c *entityCache) age(now time.Time) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.refreshedAt.IsZero() {
		return 0, false
	}
	return now.Sub(c.refreshedAt), true
}

// Domain returns the domain part of an entity ID ("light" for "light.kitchen").
func Domain(entityID string) string {
	domain, _, _ := strings.Cut(entityID, ".")
	return domain
}
