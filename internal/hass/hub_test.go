package hass

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeHub is an in-process Home Assistant websocket endpoint.
type fakeHub struct {
	t       *testing.T
	srv     *httptest.Server
	token   string
	version string

	mu          sync.Mutex
	states      []EntityState
	silent      map[string]bool
	silentConn  map[int]string
	dropFirst   bool
	conn        *hubConn
	connections int
	log         []hubMessage
}

// hubMessage is one client request as seen by the hub.
type hubMessage struct {
	Conn int
	ID   int64
	Type string
	Raw  map[string]any
}

type hubConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *hubConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	h := &fakeHub{
		t:       t,
		token:   "test-token",
		version: "1.2.3",
		silent:  map[string]bool{},

		silentConn: map[int]string{},
	}
	h.srv = httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHub) setStates(states ...EntityState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = states
}

func (h *fakeHub) setSilent(msgType string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.silent[msgType] = true
}

func (h *fakeHub) messages(msgType string) []hubMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []hubMessage
	for _, m := range h.log {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (h *fakeHub) connectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connections
}

func (h *fakeHub) current() *hubConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn
}

func (h *fakeHub) serve(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	c := &hubConn{ws: ws}

	if err := c.send(map[string]any{"type": typeAuthRequired, "ha_version": h.version}); err != nil {
		return
	}
	var auth map[string]any
	if err := ws.ReadJSON(&auth); err != nil {
		return
	}
	if auth["type"] != typeAuth || auth["access_token"] != h.token {
		_ = c.send(map[string]any{"type": typeAuthInvalid, "message": "Invalid access token or password"})
		return
	}
	if err := c.send(map[string]any{"type": typeAuthOK, "ha_version": h.version}); err != nil {
		return
	}

	h.mu.Lock()
	h.connections++
	connNo := h.connections
	h.conn = c
	h.mu.Unlock()

	for {
		var msg map[string]any
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		idf, _ := msg["id"].(float64)
		id := int64(idf)
		msgType, _ := msg["type"].(string)

		h.mu.Lock()
		h.log = append(h.log, hubMessage{Conn: connNo, ID: id, Type: msgType, Raw: msg})
		silent := h.silent[msgType] || h.silentConn[connNo] == msgType
		states := h.states
		drop := h.dropFirst && connNo == 1 && msgType == typeSubscribeEvents
		h.mu.Unlock()

		if silent {
			continue
		}
		if err := c.send(h.answer(id, msgType, msg, states)); err != nil {
			return
		}
		if drop {
			return
		}
	}
}

func (h *fakeHub) answer(id int64, msgType string, msg map[string]any, states []EntityState) map[string]any {
	switch msgType {
	case typePing:
		return map[string]any{"id": id, "type": typePong}
	case typeGetStates:
		if states == nil {
			states = []EntityState{}
		}
		return resultFrame(id, states)
	case typeSubscribeEvents:
		return resultFrame(id, nil)
	case typeCallService:
		if msg["service"] == "explode" {
			return map[string]any{
				"id": id, "type": typeResult, "success": false,
				"error": map[string]any{"code": "home_assistant_error", "message": "boom"},
			}
		}
		return resultFrame(id, map[string]any{"context": map[string]any{"id": "ctx-" + strconv.FormatInt(id, 10)}})
	case typeGetConfig:
		return resultFrame(id, map[string]any{"version": h.version, "location_name": "Home", "time_zone": "Europe/Amsterdam"})
	case typeMediaPlayerThumbnail:
		return resultFrame(id, map[string]any{"content_type": "image/jpeg", "content": "aGVsbG8="})
	default:
		return map[string]any{
			"id": id, "type": typeResult, "success": false,
			"error": map[string]any{"code": "unknown_command", "message": "Unknown command."},
		}
	}
}

func resultFrame(id int64, result any) map[string]any {
	return map[string]any{"id": id, "type": typeResult, "success": true, "result": result}
}

// pushStateChanged sends a state_changed event on the current connection.
func (h *fakeHub) pushStateChanged(t *testing.T, entityID string, oldState, newState *EntityState) {
	t.Helper()
	c := h.current()
	if c == nil {
		t.Fatal("no hub connection to push to")
	}
	err := c.send(map[string]any{
		"id":   1,
		"type": typeEvent,
		"event": map[string]any{
			"event_type": EventStateChanged,
			"data":       StateChange{EntityID: entityID, Old: oldState, New: newState},
			"origin":     "LOCAL",
			"time_fired": time.Now().UTC(),
		},
	})
	if err != nil {
		t.Fatalf("pushing event: %v", err)
	}
}

func (h *fakeHub) config(t *testing.T) Config {
	t.Helper()
	u, err := url.Parse(h.srv.URL)
	if err != nil {
		t.Fatalf("parsing hub URL: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("splitting hub host: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing hub port: %v", err)
	}
	return Config{Host: host, Port: port, AccessToken: h.token, Timeout: 2 * time.Second}
}

func newTestEngine(t *testing.T, h *fakeHub, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := h.config(t)
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

// startEngine runs e in the background and returns once every automation
// has been initialised. Run's result is delivered on the returned channel
// after the test cancels it.
func startEngine(t *testing.T, e *Engine, mode Mode, automations ...Automation) (<-chan error, context.CancelFunc) {
	t.Helper()
	ready := make(chan struct{})
	all := append(automations, AutomationFunc{
		AutomationName: "ready",
		Init: func(context.Context, *Engine) error {
			close(ready)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx, mode, all...) }()
	t.Cleanup(cancel)

	select {
	case <-ready:
	case err := <-errCh:
		t.Fatalf("Run() returned before initialisation: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not initialise")
	}
	return errCh, cancel
}

// runSync runs e to completion with a safety timeout.
func runSync(t *testing.T, e *Engine, mode Mode, automations ...Automation) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.Run(ctx, mode, automations...)
}

func entity(id, state string) EntityState {
	now := time.Now().UTC().Truncate(time.Second)
	return EntityState{
		EntityID:    id,
		State:       state,
		Attributes:  map[string]any{"friendly_name": id},
		LastChanged: now,
		LastUpdated: now,
		Context:     Context{ID: "ctx-" + id},
	}
}

func ptr[T any](v T) *T { return &v }

// eventually polls cond until it holds or the timeout expires.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
