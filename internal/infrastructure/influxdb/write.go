package influxdb

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/fourheat-core/internal/pinkey"
)

// Measurement names.
const (
	MeasurementStove  = "stove"
	MeasurementSensor = "stove_sensor"
	MeasurementPoll   = "stove_poll"
)

// WriteStoveState queues one stove point plus one stove_sensor point per
// sensor, all stamped with the snapshot's LastUpdate.
func (c *Client) WriteStoveState(deviceID string, state *pinkey.DeviceState) {
	if !c.IsConnected() || state == nil {
		return
	}
	for _, p := range stovePoints(deviceID, state) {
		c.writeAPI.WritePoint(p)
	}
}

// WritePollOutcome records one poll attempt.
//
// Parameters:
//   - deviceID: Stove identifier
//   - ok: Whether the poll produced a snapshot
//   - duration: Round trip time of the poll
//   - failures: Consecutive failures after this attempt
func (c *Client) WritePollOutcome(deviceID string, ok bool, duration time.Duration, failures int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(pollPoint(deviceID, ok, duration, failures, time.Now()))
}

// stovePoints converts a snapshot to line protocol points. Sensor values
// are written raw and scaled by the snapshot's decimal position.
func stovePoints(deviceID string, state *pinkey.DeviceState) []*write.Point {
	ts := state.LastUpdate
	if ts.IsZero() {
		ts = time.Now()
	}

	fields := map[string]any{
		"temp_princ":  state.TempPrinc,
		"temp_sec":    state.TempSec,
		"stato":       state.Stato,
		"errore":      state.Errore,
		"stato_crono": state.StatoCrono,
	}
	if sp, ok := state.Parameters[pinkey.ParamTempSetpoint]; ok {
		fields["setpoint"] = sp.Value
	}

	points := make([]*write.Point, 0, 1+len(state.Sensors))
	points = append(points, write.NewPoint(MeasurementStove,
		map[string]string{"device_id": deviceID},
		fields, ts))

	for id, sensor := range state.Sensors {
		points = append(points, write.NewPoint(MeasurementSensor,
			map[string]string{
				"device_id": deviceID,
				"sensor_id": fmt.Sprintf("%04x", id),
			},
			map[string]any{
				"valore": sensor.Valore,
				"value":  pinkey.ApplyPosPunto(sensor.Valore, state.PosPunto),
			},
			ts))
	}
	return points
}

func pollPoint(deviceID string, ok bool, duration time.Duration, failures int, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementPoll,
		map[string]string{"device_id": deviceID},
		map[string]any{
			"ok":          ok,
			"duration_ms": float64(duration.Microseconds()) / 1000,
			"failures":    failures,
		},
		ts)
}
