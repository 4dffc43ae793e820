package api

import "net/http"

// handleListTasks returns the scheduled tasks ordered by next execution.
func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	tasks := s.sched.Tasks()
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}
