// Package influxdb writes stove telemetry to InfluxDB v2.
//
// Three measurements are written:
//
//	stove         tags device_id; fields temp_princ, temp_sec, stato, errore, stato_crono, setpoint
//	stove_sensor  tags device_id, sensor_id; fields valore (raw), value (scaled)
//	stove_poll    tags device_id; fields ok, duration_ms, failures
//
// Writes are non-blocking and batched by the client library. Batch failures
// arrive asynchronously through SetOnError.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteStoveState(cfg.Device.ID, state)
package influxdb
