package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hass/internal/hass"
	"github.com/nerrad567/gray-logic-hass/internal/history"
)

// maxEntityIDLen bounds entity IDs taken from the URL.
const maxEntityIDLen = 255

// handleListEntities returns the cached entities ordered by ID.
// ?domain=light narrows the list to one domain.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	entities := s.engine.Entities()

	if domain := r.URL.Query().Get("domain"); domain != "" {
		filtered := entities[:0]
		for _, e := range entities {
			if e.Domain() == domain {
				filtered = append(filtered, e)
			}
		}
		entities = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entities": entities,
		"count":    len(entities),
	})
}

// handleGetEntity returns one cached entity.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := entityIDParam(w, r)
	if !ok {
		return
	}

	entity, err := s.engine.Entity(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

// handleGetEntityHistory returns recorded changes of an entity, newest
// first. ?limit= defaults to 50 and is clamped to 200.
func (s *Server) handleGetEntityHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := entityIDParam(w, r)
	if !ok {
		return
	}

	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "state history disabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.List(r.Context(), id, history.ClampLimit(limit))
	if err != nil {
		if errors.Is(err, history.ErrInvalidEntityID) {
			writeBadRequest(w, "invalid entity ID")
			return
		}
		s.logger.Error("failed to load entity history", "entity_id", id, "error", err)
		writeInternalError(w, "failed to load entity history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entity_id": id,
		"history":   entries,
		"count":     len(entries),
	})
}

// entityIDParam reads and checks the {id} URL parameter. It writes a 400
// and returns false when the ID is not of the form domain.object_id.
func entityIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxEntityIDLen || !strings.Contains(id, ".") || hass.Domain(id) == "" {
		writeBadRequest(w, "invalid entity ID")
		return "", false
	}
	return id, true
}
