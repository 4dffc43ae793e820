package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	defaultKeepAlive = 60 * time.Second

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// HubStatus is the Home Assistant side of the bridge status.
type HubStatus struct {
	Connected bool   `json:"connected"`
	Version   string `json:"version,omitempty"`
}

// statusPayload is published retained on Topics.Status.
type statusPayload struct {
	Status    string     `json:"status"`
	ClientID  string     `json:"client_id"`
	Reason    string     `json:"reason,omitempty"`
	Hub       *HubStatus `json:"hass,omitempty"`
	Timestamp string     `json:"timestamp"`
}

func buildStatusPayload(status, clientID, reason string, hub *HubStatus) []byte {
	b, _ := json.Marshal(statusPayload{ //nolint:errchkjson // plain fields always marshal
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Hub:       hub,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return b
}

// brokerURL returns tcp:// or ssl:// depending on the TLS setting.
func brokerURL(cfg config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)
}

// buildClientOptions creates paho options from the service config.
//
// Sessions are clean, reconnects are automatic with the configured
// backoff bounds, and the broker publishes an offline status as the
// will if the process dies without closing the client.
func buildClientOptions(cfg config.MQTTConfig, topics Topics) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	opts.SetBinaryWill(topics.Status(),
		buildStatusPayload("offline", cfg.Broker.ClientID, "unexpected_disconnect", nil), 1, true)

	return opts
}
