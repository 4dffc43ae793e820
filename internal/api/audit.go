package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-hass/internal/audit"
)

// auditLog records a service call made through the API. It never blocks
// the request.
func (s *Server) auditLog(domain, service, entityID string, data map[string]any, err error) {
	if s.audit == nil {
		return
	}
	s.audit.Record(audit.ServiceCall(audit.SourceAPI, domain, service, entityID, data, err))
}

// handleListAuditLogs returns one page of recorded service calls, newest
// first.
//
// Query parameters:
//   - action: filter by action (call_service)
//   - service: filter by "<domain>.<service>"
//   - entity_id: filter by target entity
//   - source: filter by origin (api, mqtt)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "audit trail disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		Service:  q.Get("service"),
		EntityID: q.Get("entity_id"),
		Source:   q.Get("source"),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
