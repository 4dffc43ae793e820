package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-hass/internal/audit"
	"github.com/nerrad567/gray-logic-hass/internal/hass"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/mqtt"
)

// ErrInvalidCommand is returned for a command message that cannot be
// turned into a service call.
var ErrInvalidCommand = errors.New("relay: invalid command")

// Subscriber subscribes to MQTT topics. *mqtt.Client implements it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// ServiceCaller calls Home Assistant services. *hass.Engine implements it.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service, entityID string, data map[string]any) (*hass.ServiceResult, error)
}

// Runner starts a unit of work without waiting for it.
// *supervisor.Supervisor implements it.
type Runner interface {
	Go(unit string, fn func(ctx context.Context) error)
}

// Auditor receives one entry per service call. *audit.Recorder implements it.
type Auditor interface {
	Record(e audit.Entry)
}

// commandPayload is the body of a command message. An empty body calls the
// service without data.
type commandPayload struct {
	EntityID string         `json:"entity_id"`
	Data     map[string]any `json:"data"`
}

// BridgeOption configures a CommandBridge.
type BridgeOption func(*CommandBridge)

// WithAuditor records every service call the bridge makes.
func WithAuditor(a Auditor) BridgeOption {
	return func(b *CommandBridge) { b.auditor = a }
}

// CommandBridge turns MQTT messages on <prefix>/command/<domain>/<service>
// into service calls.
//
// The MQTT handler only validates the message. The call itself runs as a
// unit of the Runner, so a slow hub never holds up the MQTT client's
// message routing.
type CommandBridge struct {
	sub     Subscriber
	runner  Runner
	topics  mqtt.Topics
	qos     byte
	logger  Logger
	auditor Auditor
}

// NewCommandBridge creates a bridge listening through sub and calling
// services as units of runner.
func NewCommandBridge(sub Subscriber, runner Runner, topics mqtt.Topics, qos byte, logger Logger, opts ...BridgeOption) *CommandBridge {
	if logger == nil {
		logger = noopLogger{}
	}
	b := &CommandBridge{sub: sub, runner: runner, topics: topics, qos: qos, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements hass.Automation.
func (b *CommandBridge) Name() string { return "mqtt-commands" }

// Initialize implements hass.Automation.
func (b *CommandBridge) Initialize(_ context.Context, e *hass.Engine) error {
	return b.Bind(e)
}

// Bind subscribes to the command topics.
func (b *CommandBridge) Bind(caller ServiceCaller) error {
	handler := func(topic string, payload []byte) error {
		return b.dispatch(caller, topic, payload)
	}
	if err := b.sub.Subscribe(b.topics.AllServiceCommands(), b.qos, handler); err != nil {
		return fmt.Errorf("subscribing to service commands: %w", err)
	}
	b.logger.Info("listening for service commands", "topic", b.topics.AllServiceCommands())
	return nil
}

// Close removes the command subscription.
func (b *CommandBridge) Close() error {
	if err := b.sub.Unsubscribe(b.topics.AllServiceCommands()); err != nil {
		return fmt.Errorf("unsubscribing from service commands: %w", err)
	}
	return nil
}

// dispatch validates a command message and hands the service call to the
// runner.
func (b *CommandBridge) dispatch(caller ServiceCaller, topic string, payload []byte) error {
	domain, service, ok := b.topics.ParseServiceCommand(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %q", ErrInvalidCommand, topic)
	}

	var cmd commandPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("%w: %s.%s: %v", ErrInvalidCommand, domain, service, err)
		}
	}

	b.runner.Go("mqtt command:"+domain+"."+service, func(ctx context.Context) error {
		b.call(ctx, caller, domain, service, cmd)
		return nil
	})
	return nil
}

// call performs one service call. A failure is logged and audited but is
// not a fault of the bridge: the hub rejected or missed one command.
func (b *CommandBridge) call(ctx context.Context, caller ServiceCaller, domain, service string, cmd commandPayload) {
	_, err := caller.CallService(ctx, domain, service, cmd.EntityID, cmd.Data)
	if b.auditor != nil {
		b.auditor.Record(audit.ServiceCall(audit.SourceMQTT, domain, service, cmd.EntityID, cmd.Data, err))
	}
	if err != nil {
		b.logger.Warn("service command failed",
			"domain", domain,
			"service", service,
			"entity_id", cmd.EntityID,
			"error", err,
		)
		return
	}
	b.logger.Debug("service command completed", "domain", domain, "service", service, "entity_id", cmd.EntityID)
}
