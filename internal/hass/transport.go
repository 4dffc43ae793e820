package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// authTimeout bounds the whole auth handshake.
const authTimeout = 10 * time.Second

// session is one authenticated websocket connection.
//
// A reader goroutine drains the socket into frames so the receive pump can
// see whether inbound traffic is backed up. frames is closed when the
// connection ends; err then holds the read error.
type session struct {
	conn    *websocket.Conn
	version string
	frames  chan []byte
	done    chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	err       error
}

func newSession(conn *websocket.Conn, version string) *session {
	s := &session{
		conn:    conn,
		version: version,
		frames:  make(chan []byte, frameBufferSize),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *session) readLoop() {
	defer close(s.frames)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.err = err
			return
		}
		select {
		case s.frames <- data:
		case <-s.done:
			return
		}
	}
}

// write sends one text frame.
func (s *session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// close sends a close frame and tears the connection down.
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck // best effort on shutdown
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close() //nolint:errcheck // connection is being discarded
	})
}

// dial opens the websocket and runs the auth handshake.
func (e *Engine) dial(ctx context.Context) (*session, error) {
	url := e.cfg.URL()
	conn, resp, err := e.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close() //nolint:errcheck // handshake response body is unused
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}

	version, err := authenticate(conn, e.cfg.AccessToken)
	if err != nil {
		_ = conn.Close() //nolint:errcheck // handshake failed
		return nil, err
	}
	return newSession(conn, version), nil
}

// authenticate runs the hub's auth handshake and returns the hub version.
//
// The hub opens with auth_required; the client answers with its access
// token and the hub replies auth_ok or auth_invalid. A hub that does not
// require auth opens with auth_ok directly.
func authenticate(conn *websocket.Conn, token string) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(authTimeout)); err != nil {
		return "", fmt.Errorf("setting auth deadline: %w", err)
	}
	defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck // cleared on a live connection

	var hello envelope
	if err := conn.ReadJSON(&hello); err != nil {
		return "", fmt.Errorf("reading auth_required: %w", err)
	}

	switch hello.Type {
	case typeAuthOK:
		return hello.HAVersion, nil
	case typeAuthRequired:
	default:
		return "", fmt.Errorf("%w: expected %s, got %q", ErrInvalidMessage, typeAuthRequired, hello.Type)
	}

	if err := conn.WriteJSON(authMessage{Type: typeAuth, AccessToken: token}); err != nil {
		return "", fmt.Errorf("sending auth: %w", err)
	}

	var verdict envelope
	if err := conn.ReadJSON(&verdict); err != nil {
		return "", fmt.Errorf("reading auth result: %w", err)
	}

	switch verdict.Type {
	case typeAuthOK:
		version := hello.HAVersion
		if verdict.HAVersion != "" {
			version = verdict.HAVersion
		}
		return version, nil
	case typeAuthInvalid:
		return "", fmt.Errorf("%w: %s", ErrAuthenticationFailed, verdict.Message)
	default:
		return "", fmt.Errorf("%w: unexpected auth reply %q", ErrInvalidMessage, verdict.Type)
	}
}

// encode marshals an outbound request.
func encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding: %w", ErrInvalidMessage, err)
	}
	return data, nil
}

// isFatalDialError reports whether redialling cannot help.
func isFatalDialError(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed)
}
