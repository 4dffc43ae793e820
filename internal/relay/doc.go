// Package relay forwards Home Assistant state changes to external sinks
// and accepts service calls over MQTT.
//
// A Relay is a hass.Automation. On Initialize it registers a
// state_changed listener and starts its sinks:
//
//   - MQTTSink mirrors each entity to a retained topic
//   - InfluxSink writes numeric states as time series
//   - HistorySink records changes in SQLite and prunes old rows hourly
//
// CommandBridge is a second automation that maps messages on
// <prefix>/command/<domain>/<service> to Engine.CallService. The MQTT
// handler only validates a message; the call runs as a supervised unit and
// is recorded in the audit trail when an Auditor is set.
package relay
