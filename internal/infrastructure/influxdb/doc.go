// Package influxdb records numeric Home Assistant entity states as
// time-series points.
//
// It wraps the official influxdb-client-go v2 library. Writes go through
// the non-blocking write API and are batched according to batch_size and
// flush_interval in config.yaml.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, influxdb.WithHub(cfg.HASS.Host))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteEntityState("sensor.living_temperature", "sensor", 21.5, time.Now())
//
// Each point is entity_state,entity_id=<id>,domain=<domain>[,hub=<host>]
// value=<float>. Connection and health check errors are returned directly;
// asynchronous write errors are counted in Stats and delivered to the
// SetOnError callback.
package influxdb
