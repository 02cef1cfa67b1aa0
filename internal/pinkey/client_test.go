package pinkey

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	hexMain       = "10" + "0000" + "00dc" + "05" + "00" + "000000" + "02bc" + "000000000000" + "01"
	hexSetpoint   = "0E00C7002D001E004B0000"
	hexReadOnly   = "0E00D0000A0000006401"
	hexSensor     = "12FFFF00FA000003E800"
	hexStateInfo  = "0C81" + "01" + "33" + "01" + "02" + "03"
	hexScaledTemp = "0E0101FFFBFF9C006400" + "01"
)

func statusReply(records ...string) string {
	return frame(append([]string{TagStatus, "0"}, records...)...)
}

// recordingLogger collects messages for assertions.
type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) record(msg string) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.record(msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record(msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record(msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record(msg) }

func (l *recordingLogger) contains(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if m == msg {
			return true
		}
	}
	return false
}

func TestDecodeStatus(t *testing.T) {
	now := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	raw := statusReply(hexMain, hexSetpoint, hexReadOnly, hexSensor, hexStateInfo, hexScaledTemp, "FF00", "0C00414243")

	state, ok := DecodeStatus(raw, now)
	if !ok {
		t.Fatal("DecodeStatus() ok = false")
	}

	if state.Stato != StatoRunning || state.Errore != 0 || state.PosPunto != 1 {
		t.Errorf("main values = stato %d errore %d pos %d", state.Stato, state.Errore, state.PosPunto)
	}
	if state.TempPrinc != 70 || state.TempSec != 22 {
		t.Errorf("temperatures = %v/%v, want 70/22", state.TempPrinc, state.TempSec)
	}
	if state.StatoCrono != 1 {
		t.Errorf("StatoCrono = %d, want 1", state.StatoCrono)
	}
	if !state.LastUpdate.Equal(now) {
		t.Errorf("LastUpdate = %v", state.LastUpdate)
	}

	if _, ok := state.Parameters[0x00d0]; ok {
		t.Error("read-only parameter present in Parameters")
	}
	if len(state.Parameters) != 2 {
		t.Errorf("len(Parameters) = %d, want 2", len(state.Parameters))
	}

	setpoint := state.Parameters[ParamTempSetpoint]
	if setpoint.Valore != 45 || setpoint.Value != 45 || setpoint.MinValue != 30 || setpoint.MaxValue != 75 {
		t.Errorf("setpoint = %+v", setpoint)
	}
	if setpoint.OriginalHex != hexSetpoint {
		t.Errorf("OriginalHex = %q, want %q", setpoint.OriginalHex, hexSetpoint)
	}

	scaled := state.Parameters[0x0101]
	if scaled.Value != -0.5 || scaled.MinValue != -10 || scaled.MaxValue != 10 {
		t.Errorf("scaled parameter = %+v", scaled)
	}

	sensor, ok := state.Sensors[0xffff]
	if !ok || sensor.Valore != 250 || sensor.Max != 1000 {
		t.Errorf("sensor = %+v, present %v", sensor, ok)
	}
}

func TestDecodeStatus_Defaults(t *testing.T) {
	state, ok := DecodeStatus(statusReply(), time.Now())
	if !ok {
		t.Fatal("DecodeStatus() ok = false")
	}
	if state.StatoCrono != 0x23 {
		t.Errorf("StatoCrono = %#x, want 0x23", state.StatoCrono)
	}
	if state.Parameters == nil || state.Sensors == nil {
		t.Error("maps not initialised")
	}
}

func TestDecodeStatus_LastRecordWins(t *testing.T) {
	second := "0E00C70037001E004B0000" // same id, valore 55
	state, ok := DecodeStatus(statusReply(hexSetpoint, second), time.Now())
	if !ok {
		t.Fatal("DecodeStatus() ok = false")
	}
	if got := state.Parameters[ParamTempSetpoint].Valore; got != 55 {
		t.Errorf("Valore = %d, want 55", got)
	}
}

func TestDecodeStatus_WrongTag(t *testing.T) {
	if state, ok := DecodeStatus(`["RST","0"]`, time.Now()); ok || state != nil {
		t.Errorf("DecodeStatus() = %v, %v; want nil, false", state, ok)
	}
}

func newTestClient(t *testing.T, handler deviceHandler) (*Client, *mockDevice) {
	t.Helper()
	dev := newMockDevice(t, handler)
	c := NewClient(Options{Transport: testTransportConfig(dev.port())})
	t.Cleanup(func() { c.Close() })
	return c, dev
}

func TestClient_ReadStatus(t *testing.T) {
	c, _ := newTestClient(t, func(string) (string, time.Duration) {
		return statusReply(hexMain, hexSetpoint), 0
	})

	state, ok := c.ReadStatus(context.Background())
	if !ok {
		t.Fatal("ReadStatus() ok = false")
	}
	if state.Stato != StatoRunning {
		t.Errorf("Stato = %d", state.Stato)
	}
	if c.CurrentHost() != "127.0.0.1" {
		t.Errorf("CurrentHost() = %q", c.CurrentHost())
	}
}

func TestClient_ReadStatusMalformedReply(t *testing.T) {
	c, _ := newTestClient(t, func(string) (string, time.Duration) {
		return `["CCG","0"]`, 0
	})
	if _, ok := c.ReadStatus(context.Background()); ok {
		t.Error("ReadStatus() ok = true for a non-2WL reply")
	}
}

func TestClient_Actions(t *testing.T) {
	c, dev := newTestClient(t, func(string) (string, time.Duration) {
		return `["2WC","0"]`, 0
	})
	ctx := context.Background()

	if !c.WriteParameter(ctx, hexSetpoint, 50) {
		t.Error("WriteParameter() = false")
	}
	if !c.TurnOn(ctx) {
		t.Error("TurnOn() = false")
	}
	if !c.TurnOff(ctx) {
		t.Error("TurnOff() = false")
	}

	want := []string{
		`["2WC","1","050E00C70032"]`,
		`["2WC","1","05040000"]`,
		`["2WC","1","05050000"]`,
	}
	got := dev.commands()
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("device saw %v, want %v", got, want)
	}
}

func TestClient_ResetErrorAcceptsAnyReply(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"explicit ok", `["RST","1","OK"]`},
		{"no marker", `["RST","0"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &recordingLogger{}
			dev := newMockDevice(t, func(string) (string, time.Duration) { return tt.reply, 0 })
			c := NewClient(Options{Transport: testTransportConfig(dev.port()), Logger: logger})
			defer c.Close()

			if !c.ResetError(context.Background()) {
				t.Error("ResetError() = false")
			}
			if !logger.contains("reset acknowledged") {
				t.Error("reset acknowledgement not logged")
			}
		})
	}
}

func TestClient_ActionsFailWhenUnreachable(t *testing.T) {
	c := NewClient(Options{Transport: testTransportConfig(closedPort(t))})
	defer c.Close()
	ctx := context.Background()

	if c.TurnOn(ctx) || c.TurnOff(ctx) || c.ResetError(ctx) || c.WriteParameter(ctx, hexSetpoint, 1) {
		t.Error("action succeeded against a closed port")
	}
	if _, ok := c.ReadStatus(ctx); ok {
		t.Error("ReadStatus() ok = true")
	}
	if _, ok := c.ReadSchedule(ctx); ok {
		t.Error("ReadSchedule() ok = true")
	}
}

func TestClient_Schedule(t *testing.T) {
	c, dev := newTestClient(t, func(cmd string) (string, time.Duration) {
		if cmd == BuildCCGCommand() {
			return frame(ccgFrame(PeriodoDaily)...), 0
		}
		return `["CCS","0","OK"]`, 0
	})
	ctx := context.Background()

	schedule, ok := c.ReadSchedule(ctx)
	if !ok {
		t.Fatal("ReadSchedule() ok = false")
	}
	if schedule.Periodo != PeriodoDaily {
		t.Errorf("Periodo = %d", schedule.Periodo)
	}

	if !c.WriteSchedule(ctx, BuildCCSDisableCommand(schedule)) {
		t.Error("WriteSchedule() = false")
	}

	cmds := dev.commands()
	if len(cmds) != 2 || !strings.HasPrefix(cmds[1], `["CCS","71","0",`) {
		t.Errorf("device saw %v", cmds)
	}
}
