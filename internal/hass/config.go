package hass

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Session defaults.
const (
	DefaultPort              = 8123
	DefaultReconnectDelay    = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 15 * time.Second
	DefaultMaxCacheAge       = 15 * time.Minute
	DefaultSendInterval      = time.Millisecond

	// frameBufferSize bounds inbound frames read but not yet processed.
	frameBufferSize = 256

	// sendQueueSize bounds outbound requests waiting for the send pump.
	sendQueueSize = 256
)

// Config is the session configuration. It does not change for the life of
// an Engine.
type Config struct {
	Host        string
	Port        int
	Secure      bool
	AccessToken string

	// Timeout bounds each request/response round trip. Zero waits forever.
	Timeout time.Duration

	// Debug enables Engine.DebugLog and frame-level debug logging.
	Debug bool

	// ReconnectOnClose makes the receive pump redial after the connection
	// drops instead of stopping.
	ReconnectOnClose bool
	ReconnectDelay   time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// MaxCacheAge is how old the entity cache may get before a read
	// triggers a background refresh.
	MaxCacheAge time.Duration

	// SendInterval paces outbound frames.
	SendInterval time.Duration
}

// withDefaults fills zero durations and the port with their defaults.
func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.MaxCacheAge <= 0 {
		c.MaxCacheAge = DefaultMaxCacheAge
	}
	if c.SendInterval <= 0 {
		c.SendInterval = DefaultSendInterval
	}
	return c
}

// Validate checks the configuration for required fields.
func (c Config) Validate() error {
	var errs []string
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, "host is required")
	}
	if c.AccessToken == "" {
		errs = append(errs, "access token is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.Timeout < 0 {
		errs = append(errs, "timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// URL returns the websocket endpoint of the hub.
func (c Config) URL() string {
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}
	return scheme + "://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) + "/api/websocket"
}
