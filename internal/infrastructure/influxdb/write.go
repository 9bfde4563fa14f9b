package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementPoolStatus = "pool_status"
	MeasurementCommand    = "pool_command"
)

// WriteSnapshot records the numeric fields of one controller snapshot as a
// single pool_status point tagged with the bridge ID. Empty field sets are
// skipped.
//
// Example:
//
//	client.WriteSnapshot("autelis-bridge-01",
//	    map[string]float64{"poolTemp": 82, "poolSetpoint": 84}, time.Now())
func (c *Client) WriteSnapshot(bridgeID string, fields map[string]float64, ts time.Time) {
	if len(fields) == 0 {
		return
	}

	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	c.write(MeasurementPoolStatus, map[string]string{"bridge_id": bridgeID}, values, ts)
}

// WriteCommand records the outcome of one device command as a counter point.
func (c *Client) WriteCommand(bridgeID, device, outcome string, ts time.Time) {
	c.write(MeasurementCommand,
		map[string]string{
			"bridge_id": bridgeID,
			"device":    device,
			"outcome":   outcome,
		},
		map[string]interface{}{"count": 1},
		ts,
	)
}

// write queues a point. Points written after Close are dropped.
func (c *Client) write(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
