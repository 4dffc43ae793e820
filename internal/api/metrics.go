package api

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/database"
)

// componentCheckTimeout bounds each component health check.
const componentCheckTimeout = 2 * time.Second

// HealthChecker is implemented by the infrastructure clients (MQTT,
// InfluxDB, SQLite).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Runtime       RuntimeMetrics     `json:"runtime"`
	Entities      EntityMetrics      `json:"entities"`
	Scheduler     SchedulerMetrics   `json:"scheduler"`
	Supervisor    *SupervisorMetrics `json:"supervisor,omitempty"`
	Audit         *AuditMetrics      `json:"audit,omitempty"`
	Database      *database.Stats    `json:"database,omitempty"`
	Components    map[string]string  `json:"components"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// EntityMetrics counts cached entities.
type EntityMetrics struct {
	Total    int            `json:"total"`
	ByDomain map[string]int `json:"by_domain"`
}

// SchedulerMetrics contains scheduler statistics.
type SchedulerMetrics struct {
	Queued int    `json:"queued"`
	Fired  uint64 `json:"fired"`
	Next   string `json:"next,omitempty"`
}

// SupervisorMetrics counts failed supervised units.
type SupervisorMetrics struct {
	Faults uint64 `json:"faults"`
}

// AuditMetrics counts audit entries written and dropped.
type AuditMetrics struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
}

// handleMetrics returns runtime, cache and component statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Entities: EntityMetrics{ByDomain: make(map[string]int)},
	}

	for _, e := range s.engine.Entities() {
		metrics.Entities.Total++
		metrics.Entities.ByDomain[e.Domain()]++
	}

	tasks := s.sched.Tasks()
	metrics.Scheduler = SchedulerMetrics{Queued: len(tasks), Fired: s.sched.Fired()}
	if len(tasks) > 0 {
		metrics.Scheduler.Next = tasks[0].Name
	}

	if s.faults != nil {
		metrics.Supervisor = &SupervisorMetrics{Faults: s.faults.Faults()}
	}
	if s.audit != nil {
		metrics.Audit = &AuditMetrics{Written: s.audit.Written(), Dropped: s.audit.Dropped()}
	}

	if s.db != nil {
		if st, err := s.db.Stats(r.Context()); err == nil {
			metrics.Database = &st
		} else {
			s.logger.Warn("reading database stats failed", "error", err)
		}
	}

	metrics.Components = s.checkComponents(r.Context())

	writeJSON(w, http.StatusOK, metrics)
}

// checkComponents runs every registered health check.
func (s *Server) checkComponents(ctx context.Context) map[string]string {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]string, len(names))
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, componentCheckTimeout)
		if err := s.checks[name].HealthCheck(checkCtx); err != nil {
			out[name] = err.Error()
		} else {
			out[name] = "ok"
		}
		cancel()
	}
	return out
}
