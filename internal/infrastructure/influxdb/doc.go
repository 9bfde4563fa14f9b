// Package influxdb records pool telemetry in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Each successful
// controller poll becomes one pool_status point carrying every numeric
// field (temperatures, setpoints, battery voltage, 0/1 equipment states),
// and each device command becomes a pool_command point tagged with its
// outcome.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteSnapshot("autelis-bridge-01", fields, time.Now())
//
// # Error Handling
//
// Writes are non-blocking; batch failures are delivered to the callback
// registered with SetOnError. Connection and health check errors are
// returned directly.
package influxdb
