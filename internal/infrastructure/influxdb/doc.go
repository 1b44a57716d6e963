// Package influxdb writes optional relay telemetry to InfluxDB v2.
//
// When influxdb.enabled is set, every accepted dispatch produces one
// "dispatch" point (messages, devices, attempted deliveries, invalid tokens,
// delivery errors, duration) and every registration one "registration"
// point tagged by network. Writes are non-blocking and batched according to
// batch_size and flush_interval.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//	client.WriteDispatch(influxdb.DispatchSample{Messages: 3, Devices: 2})
package influxdb
