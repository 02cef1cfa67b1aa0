package stove

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nerrad567/fourheat-core/internal/pinkey"
)

func TestParameterID(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    uint16
		wantErr bool
	}{
		{"hex string", "00c7", 0x00c7, false},
		{"prefixed upper", "0x017D", 0x017d, false},
		{"padded", " 180 ", 0x0180, false},
		{"number", float64(199), 199, false},
		{"not hex", "zz", 0, true},
		{"too wide", "1ffff", 0, true},
		{"negative", float64(-1), 0, true},
		{"fraction", 1.5, 0, true},
		{"missing", nil, 0, true},
		{"bool", true, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parameterID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parameterID(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parameterID(%v) = %#04x, want %#04x", tt.in, got, tt.want)
			}
		})
	}
}

func TestNumberParam(t *testing.T) {
	params := map[string]any{
		"num":  21.5,
		"str":  "22",
		"bad":  "warm",
		"list": []any{1},
	}

	tests := []struct {
		key     string
		want    float64
		wantErr bool
	}{
		{"num", 21.5, false},
		{"str", 22, false},
		{"bad", 0, true},
		{"list", 0, true},
		{"absent", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := numberParam(params, tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("numberParam(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("numberParam(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestNewStateMessage_Blocked(t *testing.T) {
	state := &pinkey.DeviceState{
		Stato:      pinkey.StatoBlocked,
		Errore:     12,
		LastUpdate: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}

	msg := NewStateMessage("stove", state)

	if !msg.Blocked || msg.StatoLabel != "Error/Blocked" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Setpoint != nil || msg.Sensors != nil {
		t.Errorf("empty snapshot carried setpoint %v sensors %v", msg.Setpoint, msg.Sensors)
	}
	if !msg.Timestamp.Equal(state.LastUpdate) {
		t.Errorf("Timestamp = %v, want %v", msg.Timestamp, state.LastUpdate)
	}
}

func TestCommandMessage_TimestampOptional(t *testing.T) {
	payload, err := json.Marshal(CommandMessage{ID: "c1", Command: CommandOn})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"id":"c1","command":"on"}`
	if string(payload) != want {
		t.Errorf("Marshal = %s, want %s", payload, want)
	}
}
