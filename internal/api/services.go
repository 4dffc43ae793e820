package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
)

// serviceNamePattern matches Home Assistant domain and service slugs.
var serviceNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// CallServiceRequest is the optional body of a service call.
type CallServiceRequest struct {
	EntityID string         `json:"entity_id,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// handleCallService forwards POST /services/{domain}/{service} to the hub.
func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	service := chi.URLParam(r, "service")
	if !serviceNamePattern.MatchString(domain) || !serviceNamePattern.MatchString(service) {
		writeBadRequest(w, "invalid domain or service")
		return
	}

	var req CallServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.engine.CallService(r.Context(), domain, service, req.EntityID, req.Data)
	s.auditLog(domain, service, req.EntityID, req.Data, err)
	if err != nil {
		s.logger.Warn("service call failed",
			"domain", domain,
			"service", service,
			"entity_id", req.EntityID,
			"request_id", requestID(r.Context()),
			"error", err,
		)
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
