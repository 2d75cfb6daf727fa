// Package influxdb exports incident lifecycle telemetry to InfluxDB v2.
//
// Every create, solution attachment and observation amendment becomes one
// point in the incident_event measurement, tagged by event kind, status and
// owner. Dashboards use it for time-to-resolution and per-operator load.
//
// Writes are non-blocking and batched per influxdb.batch_size and
// influxdb.flush_interval. Write failures arrive asynchronously through the
// callback set with SetOnError.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteIncidentEvent(influxdb.IncidentEvent{IncidentID: "inc-1", Kind: "created", Status: "initiated"})
package influxdb
