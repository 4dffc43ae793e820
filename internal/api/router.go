package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/entities", func(r chi.Router) {
			r.Get("/", s.handleListEntities)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetEntity)
				r.Get("/history", s.handleGetEntityHistory)
			})
		})

		r.Post("/services/{domain}/{service}", s.handleCallService)
		r.Get("/scheduler", s.handleListTasks)
		r.Get("/audit", s.handleListAuditLogs)
	})

	return r
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status         string       `json:"status"`
	Version        string       `json:"version"`
	HassVersion    string       `json:"hass_version"`
	Connected      bool         `json:"connected"`
	InitialStates  bool         `json:"initial_states_loaded"`
	Entities       int          `json:"entities"`
	ScheduledTasks int          `json:"scheduled_tasks"`
	History        bool         `json:"history"`
	Relay          *relayHealth `json:"relay,omitempty"`
}

type relayHealth struct {
	Sinks      []string `json:"sinks"`
	Forwarded  uint64   `json:"forwarded"`
	Stale      uint64   `json:"stale"`
	SinkErrors uint64   `json:"sink_errors"`
}

// handleHealth reports the engine's connection state. It answers 200 while
// connected and 503 otherwise, so it can back a container health check.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		Version:        s.version,
		HassVersion:    s.engine.Version(),
		Connected:      s.engine.Connected(),
		InitialStates:  s.engine.LoadedInitialStates(),
		Entities:       s.engine.EntityCount(),
		ScheduledTasks: len(s.sched.Tasks()),
		History:        s.history != nil,
	}
	if s.relay != nil {
		st := s.relay.Stats()
		resp.Relay = &relayHealth{
			Sinks:      s.relay.Sinks(),
			Forwarded:  st.Forwarded,
			Stale:      st.Stale,
			SinkErrors: st.SinkErrors,
		}
	}

	status := http.StatusOK
	if !resp.Connected {
		resp.Status = "disconnected"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
