package stove

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/fourheat-core/internal/pinkey"
)

// Command names accepted on fourheat/command/{device_id}.
const (
	CommandOn             = "on"
	CommandOff            = "off"
	CommandReset          = "reset"
	CommandRefresh        = "refresh"
	CommandSetParameter   = "set_parameter"
	CommandSetTemperature = "set_temperature"
	CommandCronoEnable    = "crono_enable"
	CommandCronoDisable   = "crono_disable"
)

// CommandMessage arrives on fourheat/command/{device_id}.
//
//	{"id":"c1","command":"set_parameter","parameters":{"id":"00c7","value":55}}
type CommandMessage struct {
	// ID correlates the acknowledgement. Generated when empty.
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Command   string    `json:"command"`
	Source    string    `json:"source,omitempty"`

	// Parameters carry command arguments:
	//   set_parameter:   {"id": "00c7" | 199, "value": 55}
	//   set_temperature: {"value": 21.5}
	Parameters map[string]any `json:"parameters,omitempty"`
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
)

// AckMessage is published on fourheat/ack/{device_id}.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError details a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in AckError.Code.
const (
	ErrCodeInvalidCommand      = "INVALID_COMMAND"
	ErrCodeInvalidParameters   = "INVALID_PARAMETERS"
	ErrCodeDeviceUnreachable   = "DEVICE_UNREACHABLE"
	ErrCodeParameterNotFound   = "PARAMETER_NOT_FOUND"
	ErrCodeStillBlocked        = "STILL_BLOCKED"
	ErrCodeScheduleUnavailable = "SCHEDULE_UNAVAILABLE"
	ErrCodeBridgeError         = "BRIDGE_ERROR"
)

// StateMessage is the retained snapshot on fourheat/state/{device_id}.
type StateMessage struct {
	DeviceID   string              `json:"device_id"`
	Timestamp  time.Time           `json:"timestamp"`
	StatoLabel string              `json:"stato_label"`
	Blocked    bool                `json:"blocked"`
	State      *pinkey.DeviceState `json:"state"`
	Setpoint   *float64            `json:"setpoint,omitempty"`
	Sensors    []SensorReading     `json:"sensors,omitempty"`
}

// SensorReading is one sensor scaled for display.
type SensorReading struct {
	ID    string  `json:"id"`
	Value float64 `json:"value"`
}

// NewStateMessage builds the retained snapshot payload.
func NewStateMessage(deviceID string, state *pinkey.DeviceState) StateMessage {
	msg := StateMessage{
		DeviceID:   deviceID,
		Timestamp:  state.LastUpdate.UTC(),
		StatoLabel: state.StatoLabel(),
		Blocked:    state.IsBlocked(),
		State:      state,
	}
	if sp, ok := state.Parameters[pinkey.ParamTempSetpoint]; ok {
		v := sp.Value
		msg.Setpoint = &v
	}
	for _, id := range state.SensorIDs() {
		msg.Sensors = append(msg.Sensors, SensorReading{
			ID:    fmt.Sprintf("%04x", id),
			Value: pinkey.ApplyPosPunto(state.Sensors[id].Valore, state.PosPunto),
		})
	}
	return msg
}

// HealthStatus is the bridge's operational status.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained status on fourheat/health.
type HealthMessage struct {
	Bridge              string       `json:"bridge"`
	Timestamp           time.Time    `json:"timestamp"`
	Status              HealthStatus `json:"status"`
	Version             string       `json:"version"`
	UptimeSeconds       int64        `json:"uptime_seconds"`
	DeviceID            string       `json:"device_id"`
	DeviceHost          string       `json:"device_host,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Suspended           bool         `json:"suspended"`
	LastPoll            *time.Time   `json:"last_poll,omitempty"`
	Reason              string       `json:"reason,omitempty"`
}

// parameterID reads a parameter id given as a hex string ("00c7", "0x00c7")
// or a JSON number.
func parameterID(v any) (uint16, error) {
	switch id := v.(type) {
	case string:
		s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(id)), "0x")
		n, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return 0, fmt.Errorf("parameter id %q is not a 16-bit hex value", id)
		}
		return uint16(n), nil
	case float64:
		if id < 0 || id > math.MaxUint16 || id != math.Trunc(id) {
			return 0, fmt.Errorf("parameter id %v out of range", id)
		}
		return uint16(id), nil
	case nil:
		return 0, fmt.Errorf("parameter id is required")
	default:
		return 0, fmt.Errorf("parameter id has unsupported type %T", v)
	}
}

// numberParam reads a numeric parameter.
func numberParam(params map[string]any, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%s %q is not a number", key, n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%s has unsupported type %T", key, v)
	}
}
