package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/audit"
	"github.com/nerrad567/gray-logic-hass/internal/hass"
	"github.com/nerrad567/gray-logic-hass/internal/history"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hass/internal/relay"
	"github.com/nerrad567/gray-logic-hass/internal/scheduler"
)

// ─── Fakes ─────────────────────────────────────────────────────────

type serviceCall struct {
	domain, service, entityID string
	data                      map[string]any
}

type fakeEngine struct {
	connected bool
	entities  []hass.EntityState
	callErr   error
	calls     []serviceCall
}

func (e *fakeEngine) Version() string           { return "2026.10.1" }
func (e *fakeEngine) Connected() bool           { return e.connected }
func (e *fakeEngine) LoadedInitialStates() bool { return e.connected }
func (e *fakeEngine) EntityCount() int          { return len(e.entities) }
func (e *fakeEngine) Entities() []hass.EntityState {
	return append([]hass.EntityState(nil), e.entities...)
}

func (e *fakeEngine) Entity(id string) (hass.EntityState, error) {
	for _, s := range e.entities {
		if s.EntityID == id {
			return s, nil
		}
	}
	return hass.EntityState{}, hass.ErrEntityNotFound
}

func (e *fakeEngine) CallService(_ context.Context, domain, service, entityID string, data map[string]any) (*hass.ServiceResult, error) {
	e.calls = append(e.calls, serviceCall{domain, service, entityID, data})
	if e.callErr != nil {
		return nil, e.callErr
	}
	return &hass.ServiceResult{Context: hass.Context{ID: "ctx-1"}}, nil
}

type fakeTasks struct {
	tasks []scheduler.TaskInfo
}

func (f *fakeTasks) Tasks() []scheduler.TaskInfo { return f.tasks }
func (f *fakeTasks) Fired() uint64               { return 7 }

type fakeHistory struct {
	entries []history.Entry
	limit   int
}

func (h *fakeHistory) Record(context.Context, history.Change) error { return nil }

func (h *fakeHistory) List(_ context.Context, entityID string, limit int) ([]history.Entry, error) {
	h.limit = limit
	var out []history.Entry
	for _, e := range h.entries {
		if e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (h *fakeHistory) Prune(context.Context, time.Duration) (int64, error) { return 0, nil }

type fakeRelay struct{}

func (fakeRelay) Stats() relay.Stats { return relay.Stats{Forwarded: 3, Stale: 1} }
func (fakeRelay) Sinks() []string    { return []string{"mqtt", "history"} }

type fakeAudit struct {
	entries []audit.Entry
	filter  audit.Filter
}

func (a *fakeAudit) Record(e audit.Entry) { a.entries = append(a.entries, e) }

func (a *fakeAudit) List(_ context.Context, f audit.Filter) (*audit.ListResult, error) {
	a.filter = f
	return &audit.ListResult{Logs: a.entries, Total: len(a.entries), Limit: audit.ClampLimit(f.Limit), Offset: f.Offset}, nil
}

func (a *fakeAudit) Dropped() uint64 { return 1 }
func (a *fakeAudit) Written() uint64 { return uint64(len(a.entries)) }

type fakeFaults uint64

func (f fakeFaults) Faults() uint64 { return uint64(f) }

type fakeDBStats struct{}

func (fakeDBStats) Stats(context.Context) (database.Stats, error) {
	return database.Stats{SizeBytes: 8192, JournalMode: "wal", Migrations: 2}, nil
}

type fakeCheck struct{ err error }

func (c fakeCheck) HealthCheck(context.Context) error { return c.err }

// ─── Helpers ───────────────────────────────────────────────────────

func testLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error", Format: "text"}, "test")
}

func testEngine() *fakeEngine {
	return &fakeEngine{
		connected: true,
		entities: []hass.EntityState{
			{EntityID: "light.kitchen", State: "on", Attributes: map[string]any{"brightness": 200.0}},
			{EntityID: "light.porch", State: "off"},
			{EntityID: "sensor.outside", State: "12.5"},
		},
	}
}

// testServer creates a Server around fakes. Pass a nil hist to disable history.
func testServer(t *testing.T, eng *fakeEngine, hist history.Repository) *Server {
	t.Helper()

	deps := Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
			CORS: config.CORSConfig{AllowedOrigins: []string{"http://panel.local"}},
		},
		Logger:    testLogger(),
		Engine:    eng,
		Scheduler: &fakeTasks{tasks: []scheduler.TaskInfo{{Name: "heartbeat", Kind: scheduler.KindRegular}}},
		Relay:     fakeRelay{},
		Checks:    map[string]HealthChecker{"mqtt": fakeCheck{}, "influxdb": fakeCheck{err: errors.New("unreachable")}},
		Version:   "test",
	}
	if hist != nil {
		deps.History = hist
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Engine: testEngine(), Scheduler: &fakeTasks{}}},
		{"no engine", Deps{Logger: testLogger(), Scheduler: &fakeTasks{}}},
		{"no scheduler", Deps{Logger: testLogger(), Engine: testEngine()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv := testServer(t, testEngine(), &fakeHistory{})
	w := do(t, srv, http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decode(t, w)
	if resp["status"] != "ok" || resp["hass_version"] != "2026.10.1" || resp["version"] != "test" {
		t.Errorf("resp = %v", resp)
	}
	if resp["entities"] != 3.0 || resp["scheduled_tasks"] != 1.0 || resp["connected"] != true || resp["history"] != true {
		t.Errorf("resp = %v", resp)
	}
	rel, ok := resp["relay"].(map[string]any)
	if !ok || rel["forwarded"] != 3.0 || rel["stale"] != 1.0 {
		t.Errorf("relay = %v", resp["relay"])
	}
}

func TestHealth_Disconnected(t *testing.T) {
	eng := testEngine()
	eng.connected = false
	srv := testServer(t, eng, nil)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want 503", w.Code)
	}
	if resp := decode(t, w); resp["status"] != "disconnected" || resp["history"] != false {
		t.Errorf("resp = %v", resp)
	}
}

func TestMetrics(t *testing.T) {
	srv := testServer(t, testEngine(), nil)
	w := do(t, srv, http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}

	var m SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Entities.Total != 3 || m.Entities.ByDomain["light"] != 2 || m.Entities.ByDomain["sensor"] != 1 {
		t.Errorf("Entities = %+v", m.Entities)
	}
	if m.Scheduler.Queued != 1 || m.Scheduler.Fired != 7 || m.Scheduler.Next != "heartbeat" {
		t.Errorf("Scheduler = %+v", m.Scheduler)
	}
	if m.Components["mqtt"] != "ok" || m.Components["influxdb"] != "unreachable" {
		t.Errorf("Components = %v", m.Components)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("Runtime.Goroutines = 0")
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv := testServer(t, testEngine(), nil)
	w := do(t, srv, http.MethodGet, "/api/v1/entities", "")
	if len(w.Header().Get("X-Request-ID")) != 36 {
		t.Errorf("X-Request-ID = %q, want a UUID", w.Header().Get("X-Request-ID"))
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv := testServer(t, testEngine(), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/entities", nil)
	req.Header.Set("X-Request-ID", "my-request")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "my-request" {
		t.Errorf("X-Request-ID = %q, want my-request", got)
	}
}

func TestCORS(t *testing.T) {
	srv := testServer(t, testEngine(), nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/entities", nil)
	req.Header.Set("Origin", "http://panel.local")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/entities", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for unknown origin = %q, want empty", got)
	}
}

func TestRecovery(t *testing.T) {
	srv := testServer(t, testEngine(), nil)
	handler := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestNotFound(t *testing.T) {
	srv := testServer(t, testEngine(), nil)
	w := do(t, srv, http.MethodGet, "/api/v1/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if resp := decode(t, w); resp["code"] != ErrCodeNotFound {
		t.Errorf("code = %v", resp["code"])
	}
}

// ─── Entity Endpoint Tests ─────────────────────────────────────────

func TestListEntities(t *testing.T) {
	srv := testServer(t, testEngine(), nil)

	resp := decode(t, do(t, srv, http.MethodGet, "/api/v1/entities", ""))
	if resp["count"] != 3.0 {
		t.Errorf("count = %v, want 3", resp["count"])
	}

	resp = decode(t, do(t, srv, http.MethodGet, "/api/v1/entities?domain=light", ""))
	if resp["count"] != 2.0 {
		t.Errorf("filtered count = %v, want 2", resp["count"])
	}
}

func TestGetEntity(t *testing.T) {
	srv := testServer(t, testEngine(), nil)

	w := do(t, srv, http.MethodGet, "/api/v1/entities/light.kitchen", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got hass.EntityState
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.EntityID != "light.kitchen" || got.State != "on" {
		t.Errorf("entity = %+v", got)
	}
}

func TestGetEntity_Errors(t *testing.T) {
	srv := testServer(t, testEngine(), nil)

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/entities/light.cellar", http.StatusNotFound},
		{"/api/v1/entities/kitchen", http.StatusBadRequest},
		{"/api/v1/entities/.kitchen", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := do(t, srv, http.MethodGet, tt.path, ""); w.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}

func TestEntityHistory(t *testing.T) {
	on := "on"
	hist := &fakeHistory{entries: []history.Entry{
		{ID: 2, EntityID: "light.kitchen", State: &on},
		{ID: 1, EntityID: "light.kitchen", State: nil},
		{ID: 3, EntityID: "light.porch", State: &on},
	}}
	srv := testServer(t, testEngine(), hist)

	w := do(t, srv, http.MethodGet, "/api/v1/entities/light.kitchen/history?limit=500", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resp := decode(t, w); resp["count"] != 2.0 || resp["entity_id"] != "light.kitchen" {
		t.Errorf("resp = %v", resp)
	}
	if hist.limit != history.MaxLimit {
		t.Errorf("limit passed = %d, want %d", hist.limit, history.MaxLimit)
	}

	if w := do(t, srv, http.MethodGet, "/api/v1/entities/light.kitchen/history?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}
}

func TestEntityHistory_Disabled(t *testing.T) {
	srv := testServer(t, testEngine(), nil)
	w := do(t, srv, http.MethodGet, "/api/v1/entities/light.kitchen/history", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// ─── Service Endpoint Tests ────────────────────────────────────────

func TestCallService(t *testing.T) {
	eng := testEngine()
	srv := testServer(t, eng, nil)

	w := do(t, srv, http.MethodPost, "/api/v1/services/light/turn_on",
		`{"entity_id":"light.kitchen","data":{"brightness":100}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(eng.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(eng.calls))
	}
	c := eng.calls[0]
	if c.domain != "light" || c.service != "turn_on" || c.entityID != "light.kitchen" || c.data["brightness"] != 100.0 {
		t.Errorf("call = %+v", c)
	}

	if w := do(t, srv, http.MethodPost, "/api/v1/services/homeassistant/check_config", ""); w.Code != http.StatusOK {
		t.Errorf("empty body status = %d, want 200", w.Code)
	}
}

func TestCallService_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"timeout", hass.ErrResponseTimeout, http.StatusGatewayTimeout},
		{"rejected", &hass.CommandError{Type: "call_service", Code: "not_found", Message: "Service not found."}, http.StatusBadGateway},
		{"not connected", hass.ErrNotConnected, http.StatusServiceUnavailable},
		{"connection lost", hass.ErrConnectionLost, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := testEngine()
			eng.callErr = tt.err
			srv := testServer(t, eng, nil)

			w := do(t, srv, http.MethodPost, "/api/v1/services/light/turn_on", `{"entity_id":"light.kitchen"}`)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestCallService_BadRequests(t *testing.T) {
	eng := testEngine()
	srv := testServer(t, eng, nil)

	tests := []struct {
		name, path, body string
		want             int
	}{
		{"bad json", "/api/v1/services/light/turn_on", "{", http.StatusBadRequest},
		{"bad domain", "/api/v1/services/Light!/turn_on", "", http.StatusBadRequest},
		{"too large", "/api/v1/services/light/turn_on", `{"data":{"x":"` + strings.Repeat("a", maxRequestBodySize) + `"}}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, srv, http.MethodPost, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
	if len(eng.calls) != 0 {
		t.Errorf("bad requests reached the engine: %+v", eng.calls)
	}

	if w := do(t, srv, http.MethodGet, "/api/v1/services/light/turn_on", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", w.Code)
	}
}

// ─── Scheduler Endpoint ────────────────────────────────────────────

func TestListTasks(t *testing.T) {
	srv := testServer(t, testEngine(), nil)
	resp := decode(t, do(t, srv, http.MethodGet, "/api/v1/scheduler", ""))
	tasks, ok := resp["tasks"].([]any)
	if !ok || len(tasks) != 1 {
		t.Fatalf("tasks = %v", resp["tasks"])
	}
	if task := tasks[0].(map[string]any); task["name"] != "heartbeat" || task["kind"] != "regular" {
		t.Errorf("task = %v", task)
	}
}

// ─── Audit Trail Tests ─────────────────────────────────────────────

func TestCallService_Audited(t *testing.T) {
	eng := testEngine()
	srv := testServer(t, eng, nil)
	trail := &fakeAudit{}
	srv.audit = trail

	do(t, srv, http.MethodPost, "/api/v1/services/light/turn_on", `{"entity_id":"light.kitchen"}`)
	eng.callErr = hass.ErrResponseTimeout
	do(t, srv, http.MethodPost, "/api/v1/services/light/turn_off", `{"entity_id":"light.kitchen"}`)

	if len(trail.entries) != 2 {
		t.Fatalf("audited %d calls, want 2", len(trail.entries))
	}
	ok, failed := trail.entries[0], trail.entries[1]
	if ok.Source != audit.SourceAPI || ok.Service != "light.turn_on" || ok.EntityID != "light.kitchen" || !ok.Success {
		t.Errorf("first entry = %+v", ok)
	}
	if failed.Success || failed.Details["error"] != hass.ErrResponseTimeout.Error() {
		t.Errorf("second entry = %+v", failed)
	}

	// Rejected requests never reach the hub and are not audited.
	do(t, srv, http.MethodPost, "/api/v1/services/Light/turn_on", "")
	if len(trail.entries) != 2 {
		t.Errorf("bad request was audited: %+v", trail.entries)
	}
}

func TestListAuditLogs(t *testing.T) {
	srv := testServer(t, testEngine(), nil)
	trail := &fakeAudit{entries: []audit.Entry{
		audit.ServiceCall(audit.SourceMQTT, "switch", "toggle", "switch.fan", nil, nil),
	}}
	srv.audit = trail

	w := do(t, srv, http.MethodGet, "/api/v1/audit?service=switch.toggle&source=mqtt&entity_id=switch.fan&limit=500&offset=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	want := audit.Filter{Service: "switch.toggle", EntityID: "switch.fan", Source: "mqtt", Limit: 500, Offset: 2}
	if trail.filter != want {
		t.Errorf("filter = %+v, want %+v", trail.filter, want)
	}
	var result audit.ListResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Total != 1 || result.Limit != audit.MaxLimit || result.Logs[0].Service != "switch.toggle" {
		t.Errorf("result = %+v", result)
	}

	for _, query := range []string{"limit=abc", "limit=0", "offset=-1", "offset=x"} {
		if w := do(t, srv, http.MethodGet, "/api/v1/audit?"+query, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", query, w.Code)
		}
	}
}

func TestListAuditLogs_Disabled(t *testing.T) {
	srv := testServer(t, testEngine(), nil)
	if w := do(t, srv, http.MethodGet, "/api/v1/audit", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestMetrics_SupervisorAuditDatabase(t *testing.T) {
	srv := testServer(t, testEngine(), nil)
	srv.faults = fakeFaults(4)
	srv.audit = &fakeAudit{entries: make([]audit.Entry, 2)}
	srv.db = fakeDBStats{}

	var m SystemMetrics
	if err := json.Unmarshal(do(t, srv, http.MethodGet, "/api/v1/metrics", "").Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Supervisor == nil || m.Supervisor.Faults != 4 {
		t.Errorf("Supervisor = %+v", m.Supervisor)
	}
	if m.Audit == nil || m.Audit.Written != 2 || m.Audit.Dropped != 1 {
		t.Errorf("Audit = %+v", m.Audit)
	}
	if m.Database == nil || m.Database.Migrations != 2 || m.Database.JournalMode != "wal" {
		t.Errorf("Database = %+v", m.Database)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestStartClose(t *testing.T) {
	srv := testServer(t, testEngine(), nil)
	ctx := context.Background()

	if err := srv.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() before Start = nil, want error")
	}
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.Start(ctx); err == nil {
		t.Error("second Start() = nil, want error")
	}
	if err := srv.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr().String() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
