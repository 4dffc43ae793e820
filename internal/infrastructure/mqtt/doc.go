// Package mqtt provides the MQTT client used to mirror Home Assistant
// entity states onto a broker and to accept service call requests from it.
//
//	Home Assistant ↔ graylogic-hass ↔ MQTT Broker ↔ other Gray Logic services
//
// Every topic lives under a configurable prefix (default graylogic/hass),
// see Topics. The client publishes a retained online status on connect, a
// graceful offline status on Close, and registers an offline status as its
// Last Will. The online status also reports the Home Assistant session
// under "hass" once SetHubStatus has been called.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().EntityState("light.kitchen")
//	err = client.PublishRetained(topic, payload)
//
// Broker round-trip tests carry the integration build tag:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...
package mqtt
