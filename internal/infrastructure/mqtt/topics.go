package mqtt

import "strings"

// DefaultTopicPrefix is the root of every topic this service publishes.
const DefaultTopicPrefix = "graylogic/hass"

// Topics builds the MQTT topics used by the Home Assistant mirror.
//
// Layout under the prefix:
//
//	<prefix>/status                         online/offline, retained, LWT
//	<prefix>/state/<entity_id>              entity state JSON, retained
//	<prefix>/command/<domain>/<service>     service call requests
//	<prefix>/fault                          last supervised unit fault, retained
//
// The zero value uses DefaultTopicPrefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.TrimSuffix(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// Status returns the service status topic.
//
// Example: graylogic/hass/status
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

// EntityState returns the retained state topic of one entity.
//
// Example: graylogic/hass/state/light.kitchen
func (t Topics) EntityState(entityID string) string {
	return t.prefix() + "/state/" + entityID
}

// Fault returns the topic carrying the most recent unit fault.
//
// Example: graylogic/hass/fault
func (t Topics) Fault() string {
	return t.prefix() + "/fault"
}

// ServiceCommand returns the topic on which calls to domain.service are
// requested.
//
// Example: graylogic/hass/command/light/turn_on
func (t Topics) ServiceCommand(domain, service string) string {
	return t.prefix() + "/command/" + domain + "/" + service
}

// AllEntityStates matches every entity state topic.
//
// Pattern: graylogic/hass/state/+
func (t Topics) AllEntityStates() string {
	return t.prefix() + "/state/+"
}

// AllServiceCommands matches every service command topic.
//
// Pattern: graylogic/hass/command/+/+
func (t Topics) AllServiceCommands() string {
	return t.prefix() + "/command/+/+"
}

// ParseServiceCommand extracts domain and service from a topic produced by
// ServiceCommand. ok is false for any other topic.
func (t Topics) ParseServiceCommand(topic string) (domain, service string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/command/")
	if !found {
		return "", "", false
	}
	domain, service, found = strings.Cut(rest, "/")
	if !found || domain == "" || service == "" || strings.Contains(service, "/") {
		return "", "", false
	}
	return domain, service, true
}
