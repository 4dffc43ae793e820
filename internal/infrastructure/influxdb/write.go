package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementEntityState is the measurement numeric entity states are
// written to.
const MeasurementEntityState = "entity_state"

// Tags and field of an entity state point.
const (
	TagEntityID = "entity_id"
	TagDomain   = "domain"
	FieldValue  = "value"
)

// WriteEntityState records the numeric value of an entity at the time it
// changed. Writes after Close are dropped and counted.
//
// Parameters:
//   - entityID: Home Assistant entity ID (e.g., "sensor.living_temperature")
//   - domain: Entity domain, used as a low-cardinality tag
//   - value: Numeric state
//   - at: The entity's last_updated time; zero means now
func (c *Client) WriteEntityState(entityID, domain string, value float64, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	if !c.IsConnected() {
		c.dropped.Add(1)
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementEntityState,
		map[string]string{TagEntityID: entityID, TagDomain: domain},
		map[string]any{FieldValue: value},
		at,
	))
	c.queued.Add(1)
}
