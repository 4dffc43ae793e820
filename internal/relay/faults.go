package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hass/internal/supervisor"
)

// faultPayload is the retained document on <prefix>/fault.
type faultPayload struct {
	ID       string    `json:"fault_id"`
	Unit     string    `json:"unit"`
	Error    string    `json:"error"`
	Panicked bool      `json:"panicked"`
	At       time.Time `json:"at"`
}

// FaultNotifier publishes supervised unit faults over MQTT. Its Notify
// method is a supervisor.Handler.
//
// The publisher may be attached after the notifier is installed on a
// supervisor. Faults reported before Attach are not published.
type FaultNotifier struct {
	logger Logger

	mu     sync.Mutex
	pub    Publisher
	topics mqtt.Topics
}

// NewFaultNotifier creates a notifier with no publisher attached.
func NewFaultNotifier(logger Logger) *FaultNotifier {
	if logger == nil {
		logger = noopLogger{}
	}
	return &FaultNotifier{logger: logger}
}

// Attach starts publishing faults through pub.
func (n *FaultNotifier) Attach(pub Publisher, topics mqtt.Topics) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pub, n.topics = pub, topics
}

// Notify publishes f as the latest fault.
func (n *FaultNotifier) Notify(f supervisor.Fault) {
	n.mu.Lock()
	pub, topics := n.pub, n.topics
	n.mu.Unlock()
	if pub == nil {
		return
	}

	p := faultPayload{ID: f.ID, Unit: f.Unit, Panicked: f.Panic != nil, At: f.At.UTC()}
	if f.Err != nil {
		p.Error = f.Err.Error()
	}
	payload, err := json.Marshal(p)
	if err != nil {
		n.logger.Error("marshalling fault notice", "fault_id", f.ID, "error", err)
		return
	}
	if err := pub.PublishRetained(topics.Fault(), payload); err != nil {
		n.logger.Warn("publishing fault notice failed", "fault_id", f.ID, "unit", f.Unit, "error", err)
	}
}
