package controller

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/nerrad567/fourheat-core/internal/pinkey"
)

// primed returns a controller whose snapshot is already loaded.
func primed(t *testing.T, dev *fakeDevice) *Controller {
	t.Helper()
	c := New(Options{Device: dev})
	if _, err := c.PollNow(context.Background()); err != nil {
		t.Fatalf("priming poll: %v", err)
	}
	dev.set(func(f *fakeDevice) { f.calls = nil; f.reads = 0 })
	return c
}

func TestWriteParameter(t *testing.T) {
	dev := newFakeDevice(testState(pinkey.StatoRunning))
	c := primed(t, dev)

	if err := c.WriteParameter(context.Background(), pinkey.ParamTempSetpoint, 50); err != nil {
		t.Fatalf("WriteParameter() error = %v", err)
	}

	want := []string{`write:["2WC","1","050E00C70032"]`, "read"}
	if got := dev.callLog(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestWriteParameter_FailureDoesNotRefresh(t *testing.T) {
	dev := newFakeDevice(testState(pinkey.StatoRunning))
	c := primed(t, dev)
	dev.set(func(f *fakeDevice) { f.actionsOK = false })

	err := c.WriteParameter(context.Background(), pinkey.ParamTempSetpoint, 50)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("WriteParameter() error = %v, want ErrDeviceUnavailable", err)
	}
	if n := dev.readCount(); n != 0 {
		t.Errorf("refresh polls after failed write = %d, want 0", n)
	}
}

func TestWriteParameter_UnknownParameter(t *testing.T) {
	dev := newFakeDevice(testState(pinkey.StatoRunning))

	// No snapshot yet.
	c := New(Options{Device: dev})
	if err := c.WriteParameter(context.Background(), pinkey.ParamTempSetpoint, 50); !errors.Is(err, ErrParameterNotFound) {
		t.Errorf("WriteParameter() before poll error = %v", err)
	}

	c = primed(t, dev)
	if err := c.WriteParameter(context.Background(), 0x0999, 1); !errors.Is(err, ErrParameterNotFound) {
		t.Errorf("WriteParameter(unknown) error = %v", err)
	}
	if calls := dev.callLog(); len(calls) != 0 {
		t.Errorf("device was called: %v", calls)
	}
}

func TestSetTargetTemperature(t *testing.T) {
	tests := []struct {
		name     string
		celsius  float64
		posPunto int
		want     string
	}{
		{"in range", 50, 0, "0032"},
		{"rounded", 49.6, 0, "0032"},
		{"clamped high", 90, 0, "004b"},
		{"clamped low", 20.4, 0, "001e"},
		{"scaled by decimal position", 45.5, 1, "01c7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := testState(pinkey.StatoRunning)
			p := state.Parameters[pinkey.ParamTempSetpoint]
			p.PosPunto = tt.posPunto
			state.Parameters[pinkey.ParamTempSetpoint] = p

			dev := newFakeDevice(state)
			c := primed(t, dev)

			if err := c.SetTargetTemperature(context.Background(), tt.celsius); err != nil {
				t.Fatalf("SetTargetTemperature() error = %v", err)
			}
			calls := dev.callLog()
			want := `write:["2WC","1","050E00C7` + tt.want + `"]`
			if len(calls) == 0 || calls[0] != want {
				t.Errorf("calls = %v, want first %s", calls, want)
			}
		})
	}
}

func TestTurnOn(t *testing.T) {
	dev := newFakeDevice(testState(pinkey.StatoOff))
	c := primed(t, dev)

	if err := c.TurnOn(context.Background()); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if got, want := dev.callLog(), []string{"on", "read"}; !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestTurnOn_BlockedResetClears(t *testing.T) {
	dev := newFakeDevice(testState(pinkey.StatoBlocked))
	dev.resetClear = true
	c := primed(t, dev)

	if err := c.TurnOn(context.Background()); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	want := []string{"reset", "read", "on", "read"}
	if got := dev.callLog(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestTurnOn_StillBlocked(t *testing.T) {
	dev := newFakeDevice(testState(pinkey.StatoBlocked))
	c := primed(t, dev)

	if err := c.TurnOn(context.Background()); !errors.Is(err, ErrStillBlocked) {
		t.Fatalf("TurnOn() error = %v, want ErrStillBlocked", err)
	}
	for _, call := range dev.callLog() {
		if call == "on" {
			t.Error("on command sent while still blocked")
		}
	}
}

func TestSimpleActions(t *testing.T) {
	tests := []struct {
		name   string
		action func(*Controller, context.Context) error
		call   string
	}{
		{"turn off", (*Controller).TurnOff, "off"},
		{"reset", (*Controller).ResetError, "reset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice(testState(pinkey.StatoRunning))
			c := primed(t, dev)

			if err := tt.action(c, context.Background()); err != nil {
				t.Fatalf("error = %v", err)
			}
			if got, want := dev.callLog(), []string{tt.call, "read"}; !reflect.DeepEqual(got, want) {
				t.Errorf("calls = %v, want %v", got, want)
			}

			dev.set(func(f *fakeDevice) { f.actionsOK = false; f.calls = nil })
			if err := tt.action(c, context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
				t.Errorf("failing action error = %v", err)
			}
			if got := dev.callLog(); len(got) != 1 {
				t.Errorf("failed action refreshed: %v", got)
			}
		})
	}
}

func testSchedule(periodo int) *pinkey.CronoSchedule {
	s := &pinkey.CronoSchedule{Periodo: periodo}
	for d := range s.Days {
		s.Days[d].DayNumber = d + 1
		s.Days[d].Slots[0] = pinkey.CronoTimeSlot{Start: "06:00", End: "08:00", Enabled: true}
		s.Days[d].Slots[1] = pinkey.CronoTimeSlot{Start: "00:00", End: "00:00"}
		s.Days[d].Slots[2] = pinkey.CronoTimeSlot{Start: "18:00", End: "22:30", Enabled: true}
	}
	return s
}

func TestCrono(t *testing.T) {
	tests := []struct {
		name       string
		periodo    int
		action     func(*Controller, context.Context) error
		wantPrefix string
	}{
		{"enable keeps periodo", pinkey.PeriodoDaily, (*Controller).EnableCrono, `ccs:["CCS","71","1","1",`},
		{"enable from off uses weekly", pinkey.PeriodoOff, (*Controller).EnableCrono, `ccs:["CCS","71","2","1",`},
		{"disable", pinkey.PeriodoWeekly, (*Controller).DisableCrono, `ccs:["CCS","71","0","1",`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice(testState(pinkey.StatoRunning))
			dev.schedule = testSchedule(tt.periodo)
			c := primed(t, dev)

			if err := tt.action(c, context.Background()); err != nil {
				t.Fatalf("error = %v", err)
			}
			calls := dev.callLog()
			if len(calls) != 3 || calls[0] != "ccg" || !strings.HasPrefix(calls[1], tt.wantPrefix) || calls[2] != "read" {
				t.Errorf("calls = %v, want ccg, %s..., read", calls, tt.wantPrefix)
			}
		})
	}
}

func TestCrono_ScheduleUnavailable(t *testing.T) {
	dev := newFakeDevice(testState(pinkey.StatoRunning))
	c := primed(t, dev)

	if err := c.EnableCrono(context.Background()); !errors.Is(err, ErrScheduleUnavailable) {
		t.Errorf("EnableCrono() error = %v", err)
	}
	if _, err := c.ReadSchedule(context.Background()); !errors.Is(err, ErrScheduleUnavailable) {
		t.Errorf("ReadSchedule() error = %v", err)
	}
}

func TestWriteSchedule(t *testing.T) {
	dev := newFakeDevice(testState(pinkey.StatoRunning))
	c := primed(t, dev)

	if err := c.WriteSchedule(context.Background(), testSchedule(pinkey.PeriodoWeekend)); err != nil {
		t.Fatalf("WriteSchedule() error = %v", err)
	}
	calls := dev.callLog()
	if len(calls) != 2 || !strings.HasPrefix(calls[0], `ccs:["CCS","71","3","1","06:00","08:00","1"`) {
		t.Errorf("calls = %v", calls)
	}
}
